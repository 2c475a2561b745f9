package main

import (
	"fmt"
	"strings"

	"github.com/srg/blecentral/model"
)

// parseServiceFlags turns repeated --service flags of the form
// "svcUUID" or "svcUUID:char1,char2,..." into a DeviceDescription. An
// absent characteristic list means "discover all" (spec §3).
func parseServiceFlags(flags []string) (model.DeviceDescription, error) {
	var desc model.DeviceDescription
	for _, f := range flags {
		parts := strings.SplitN(f, ":", 2)
		svc, err := mustParseUUID(strings.TrimSpace(parts[0]))
		if err != nil {
			return model.DeviceDescription{}, err
		}
		sd := model.ServiceDescription{UUID: svc}
		if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
			for _, ch := range strings.Split(parts[1], ",") {
				u, err := mustParseUUID(strings.TrimSpace(ch))
				if err != nil {
					return model.DeviceDescription{}, err
				}
				sd.Characteristics = append(sd.Characteristics, model.CharacteristicDescription{
					UUID:     u,
					AutoRead: true,
				})
			}
		}
		desc.Services = append(desc.Services, sd)
	}
	return desc, nil
}

func requireServiceFlags(flags []string) error {
	if len(flags) == 0 {
		return fmt.Errorf("at least one --service UUID[:char,char,...] is required")
	}
	return nil
}

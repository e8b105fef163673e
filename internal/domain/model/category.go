// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"slices"
)

// HardwareMake identifies the vendor of a piece of hardware.
type HardwareMake string

// Supported hardware makes.
const (
	MakeAMD    HardwareMake = "AMD"
	MakeNvidia HardwareMake = "NVIDIA"
	MakeIntel  HardwareMake = "INTEL"
)

// HardwareType distinguishes GPUs from CPUs.
type HardwareType string

// Supported hardware types.
const (
	TypeGPU HardwareType = "GPU"
	TypeCPU HardwareType = "CPU"
)

// Category is the competition slot a user occupies within their team.
type Category string

// Competition categories.
const (
	CategoryAMDGPU    Category = "AMD_GPU"
	CategoryNvidiaGPU Category = "NVIDIA_GPU"
	CategoryWildcard  Category = "WILDCARD"
)

// categoryRule is the data behind a Category: which hardware it accepts and
// how many users of that category a single team may hold.
type categoryRule struct {
	makes     []HardwareMake
	types     []HardwareType
	permitted int
}

var categoryRules = map[Category]categoryRule{ //nolint:gochecknoglobals // closed enumeration table
	CategoryAMDGPU: {
		makes:     []HardwareMake{MakeAMD},
		types:     []HardwareType{TypeGPU},
		permitted: 1,
	},
	CategoryNvidiaGPU: {
		makes:     []HardwareMake{MakeNvidia},
		types:     []HardwareType{TypeGPU},
		permitted: 1,
	},
	CategoryWildcard: {
		makes:     []HardwareMake{MakeAMD, MakeNvidia, MakeIntel},
		types:     []HardwareType{TypeGPU, TypeCPU},
		permitted: 1,
	},
}

// Categories returns every category in a stable order.
func Categories() []Category {
	return []Category{CategoryAMDGPU, CategoryNvidiaGPU, CategoryWildcard}
}

// ParseCategory converts s into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categoryRules[c]
	return ok
}

// Compatible reports whether hardware of the given make and type may be
// used by a user in category c.
func (c Category) Compatible(mk HardwareMake, typ HardwareType) bool {
	rule, ok := categoryRules[c]
	if !ok {
		return false
	}
	return slices.Contains(rule.makes, mk) && slices.Contains(rule.types, typ)
}

// PermittedPerTeam is the number of users of category c a team may hold.
func (c Category) PermittedPerTeam() int {
	return categoryRules[c].permitted
}

// MaxTeamSize is the number of active users a full team holds.
func MaxTeamSize() int {
	total := 0
	for _, rule := range categoryRules {
		total += rule.permitted
	}
	return total
}

package domain

import (
	"fmt"
	"math/rand/v2"
)

var (
	nameAdjectives = []string{
		"Swift", "Bright", "Cosmic", "Digital", "Stellar", "Quantum", "Crystal",
		"Neon", "Cyber", "Electric", "Mystic", "Radiant", "Dynamic", "Astral",
		"Vivid", "Prism", "Aurora", "Echo", "Phoenix", "Storm",
	}
	nameNouns = []string{
		"Explorer", "Pioneer", "Voyager", "Builder", "Creator", "Architect",
		"Guardian", "Navigator", "Wanderer", "Dreamer", "Sage", "Seeker",
		"Artist", "Innovator", "Visionary", "Traveler", "Designer", "Engineer",
		"Adventurer", "Pathfinder",
	}
)

// GenerateName returns a display label like "CosmicVoyager42".
func GenerateName() string {
	adj := nameAdjectives[rand.IntN(len(nameAdjectives))]
	noun := nameNouns[rand.IntN(len(nameNouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, rand.IntN(1000))
}

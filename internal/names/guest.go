package names

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/H4MSA/solivrah/internal/core"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Guest handle components, grouped so a handle can echo the chosen theme.
var (
	adjectives = map[core.Theme][]string{
		core.ThemeDiscipline: {"Steady", "Early", "Unbroken", "Patient", "Relentless", "Orderly"},
		core.ThemeFocus:      {"Quiet", "Sharp", "Clear", "Deep", "Still", "Attentive"},
		core.ThemeResilience: {"Stubborn", "Weathered", "Rising", "Unbowed", "Tireless", "Brave"},
		core.ThemeWildcard:   {"Curious", "Wandering", "Restless", "Bold", "Spontaneous", "Playful"},
	}

	nouns = []string{
		"Sparrow", "Otter", "Heron", "Fox", "Badger", "Lynx",
		"Falcon", "Tortoise", "Marten", "Wren", "Elk", "Ibex",
		"Climber", "Runner", "Walker", "Builder", "Gardener", "Reader",
	}
)

// GuestHandle returns a display name such as "Steady Heron 42" for a guest
// without an account. An unknown theme draws from all themes.
func GuestHandle(theme core.Theme) string {
	pool, ok := adjectives[theme]
	if !ok {
		pool = adjectives[core.Themes[rng.Intn(len(core.Themes))]]
	}
	adj := pool[rng.Intn(len(pool))]
	noun := nouns[rng.Intn(len(nouns))]
	return fmt.Sprintf("%s %s %d", adj, noun, 10+rng.Intn(90))
}

package tagcache

import (
	"fmt"
	"time"
)

// DefaultProfile is applied when an invalidation names no profile and to
// entries that went stale because their freshness window elapsed.
const DefaultProfile = "max"

// Profile is a named stale-serving policy. StaleFor bounds how long a stale
// value may still be served while a refresh runs; 0 means no bound.
type Profile struct {
	Name     string
	StaleFor time.Duration
}

var builtinProfiles = map[string]Profile{
	"seconds": {Name: "seconds", StaleFor: time.Minute},
	"minutes": {Name: "minutes", StaleFor: time.Hour},
	"hours":   {Name: "hours", StaleFor: 24 * time.Hour},
	"days":    {Name: "days", StaleFor: 7 * 24 * time.Hour},
	"weeks":   {Name: "weeks", StaleFor: 30 * 24 * time.Hour},
	"max":     {Name: "max"},
}

// BuiltinProfile returns one of the built-in profiles. "default" and ""
// resolve to DefaultProfile.
func BuiltinProfile(name string) (Profile, bool) {
	if name == "" || name == "default" {
		name = DefaultProfile
	}
	p, ok := builtinProfiles[name]
	return p, ok
}

// profiles resolves names against the built-ins plus caller-defined ones.
type profiles struct {
	byName map[string]Profile
	def    Profile
}

func newProfiles(custom []Profile, def string) (profiles, error) {
	ps := profiles{byName: make(map[string]Profile, len(builtinProfiles)+len(custom))}
	for n, p := range builtinProfiles {
		ps.byName[n] = p
	}
	for _, p := range custom {
		if p.Name == "" || p.Name == "default" {
			return profiles{}, fmt.Errorf("tagcache: invalid profile name %q", p.Name)
		}
		if p.StaleFor < 0 {
			return profiles{}, fmt.Errorf("tagcache: profile %q: negative StaleFor", p.Name)
		}
		ps.byName[p.Name] = p
	}
	d, ok := ps.lookup(def)
	if !ok {
		return profiles{}, fmt.Errorf("%w: %q", ErrUnknownProfile, def)
	}
	ps.def = d
	return ps, nil
}

func (ps profiles) lookup(name string) (Profile, bool) {
	if name == "" || name == "default" {
		if ps.def.Name != "" {
			return ps.def, true
		}
		name = DefaultProfile
	}
	p, ok := ps.byName[name]
	return p, ok
}

// resolve never fails: generations written by another replica may name a
// profile this process does not know.
func (ps profiles) resolve(name string) Profile {
	if p, ok := ps.lookup(name); ok {
		return p
	}
	return ps.def
}

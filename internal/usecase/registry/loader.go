package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"switchboard/internal/domain"
)

// Environment variable scheme for declaring agents without a file:
//
//	AGENT_<NAME>_URL=http://host:port/rpc
//	AGENT_<NAME>_CAPABILITIES=billing,refunds
//	AGENT_<NAME>_DESCRIPTION=optional free text
const (
	envPrefix     = "AGENT_"
	envSuffixURL  = "_URL"
	envSuffixCaps = "_CAPABILITIES"
	envSuffixDesc = "_DESCRIPTION"
)

// LoadFile bulk-loads descriptors from a YAML file. Individual malformed
// entries are skipped with a warning; a partial load is acceptable and
// never fatal. Only an unreadable or unparsable file is an error.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read agent file %s: %w", path, err)
	}

	var doc struct {
		Agents []domain.Descriptor `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse agent file %s: %w", path, err)
	}

	loaded := 0
	for i, d := range doc.Agents {
		if err := r.Register(d); err != nil {
			r.logger.Warn("skip invalid agent entry", "file", path, "index", i, "name", d.Name, "error", err)
			continue
		}
		loaded++
	}
	r.logger.Info("agent file loaded", "file", path, "loaded", loaded, "total", len(doc.Agents))
	return nil
}

// LoadEnv scans environ entries (as returned by os.Environ) for the
// AGENT_<NAME>_* scheme and registers one descriptor per name that has a
// URL. Entries with a malformed URL are skipped with a warning.
func (r *Registry) LoadEnv(environ []string) int {
	type pending struct {
		url, caps, desc string
	}
	found := make(map[string]*pending)
	var names []string // preserve first-seen order for deterministic registration

	get := func(name string) *pending {
		p, ok := found[name]
		if !ok {
			p = &pending{}
			found[name] = p
			names = append(names, name)
		}
		return p
	}

	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		switch {
		case strings.HasSuffix(key, envSuffixURL):
			name := key[len(envPrefix) : len(key)-len(envSuffixURL)]
			if name != "" {
				get(name).url = val
			}
		case strings.HasSuffix(key, envSuffixCaps):
			name := key[len(envPrefix) : len(key)-len(envSuffixCaps)]
			if name != "" {
				get(name).caps = val
			}
		case strings.HasSuffix(key, envSuffixDesc):
			name := key[len(envPrefix) : len(key)-len(envSuffixDesc)]
			if name != "" {
				get(name).desc = val
			}
		}
	}

	loaded := 0
	for _, name := range names {
		p := found[name]
		if p.url == "" {
			r.logger.Warn("skip agent env entry without URL", "agent", name)
			continue
		}
		d := domain.Descriptor{
			Name:        strings.ToLower(name),
			Endpoint:    p.url,
			Description: p.desc,
		}
		for _, c := range strings.Split(p.caps, ",") {
			if c = strings.TrimSpace(c); c != "" {
				d.Capabilities = append(d.Capabilities, c)
			}
		}
		if err := r.Register(d); err != nil {
			r.logger.Warn("skip invalid agent env entry", "agent", name, "error", err)
			continue
		}
		loaded++
	}
	return loaded
}

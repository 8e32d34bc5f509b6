package handle

import (
	"fmt"
	"strings"

	"github.com/fluxorio/nodelet/pkg/core"
)

// normalizeNamespace turns "", "camera1" and "/camera1/" into "/" ,
// "/camera1" and "/camera1".
func normalizeNamespace(ns string) (string, error) {
	ns = strings.TrimRight(ns, "/")
	if ns == "" {
		return "/", nil
	}
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	if strings.Contains(ns, "~") {
		return "", core.ErrInvalidName.Wrap(fmt.Errorf("namespace %q cannot contain '~'", ns))
	}
	if err := core.ValidateName(ns); err != nil {
		return "", err
	}
	return ns, nil
}

func join(ns, rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return ns
	}
	if ns == "/" {
		return "/" + rel
	}
	return ns + "/" + rel
}

// resolve expands name against ns without applying remappings
func resolve(ns, name string) (string, error) {
	if err := core.ValidateName(name); err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(name, "/"):
		if name == "/" {
			return name, nil
		}
		return strings.TrimRight(name, "/"), nil
	case strings.HasPrefix(name, "~"):
		return join(ns, name[1:]), nil
	default:
		return join(ns, name), nil
	}
}

// resolveRemappings expands both sides of every remapping rule against ns
func resolveRemappings(ns string, remappings map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(remappings))
	for from, to := range remappings {
		rf, err := resolve(ns, from)
		if err != nil {
			return nil, fmt.Errorf("remapping %q: %w", from, err)
		}
		rt, err := resolve(ns, to)
		if err != nil {
			return nil, fmt.Errorf("remapping %q:=%q: %w", from, to, err)
		}
		out[rf] = rt
	}
	return out, nil
}

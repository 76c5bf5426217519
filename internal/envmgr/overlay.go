package envmgr

import (
	"github.com/lakowske/netcore/internal/schema"
	"gopkg.in/yaml.v3"
)

// mergeOverlay applies environments.local.yaml on top of the base
// environments document: overlay entries with a name matching a base
// entry override that entry's fields (only the ones explicitly present in
// the overlay YAML, per nodeHasPath, so e.g. an overlay entry that only
// sets base_path doesn't blank out the base entry's domain); overlay
// entries with a new name are appended. An explicit overlay
// current_environment overrides the base document's current pointer.
func mergeOverlay(base, overlay *schema.EnvironmentsDocument, overlayNode *yaml.Node) *schema.EnvironmentsDocument {
	merged := *base
	merged.Environments = append([]schema.Environment(nil), base.Environments...)

	for i, oe := range overlay.Environments {
		envPath := []string{"environments", indexKey(i)}
		idx := indexOf(merged.Environments, oe.Name)
		if idx < 0 {
			merged.Environments = append(merged.Environments, oe)
			continue
		}

		current := merged.Environments[idx]
		if nodeHasPath(overlayNode, append(envPath, "description")...) {
			current.Description = oe.Description
		}
		if nodeHasPath(overlayNode, append(envPath, "base_path")...) {
			current.BasePath = oe.BasePath
		}
		if nodeHasPath(overlayNode, append(envPath, "domain")...) {
			current.Domain = oe.Domain
		}
		if nodeHasPath(overlayNode, append(envPath, "admin_email")...) {
			current.AdminEmail = oe.AdminEmail
		}
		if nodeHasPath(overlayNode, append(envPath, "enabled")...) {
			current.Enabled = oe.Enabled
		}
		if nodeHasPath(overlayNode, append(envPath, "tags")...) {
			current.Tags = oe.Tags
		}
		if nodeHasPath(overlayNode, append(envPath, "certificate_mode")...) {
			current.CertificateMode = oe.CertificateMode
		}
		if nodeHasPath(overlayNode, append(envPath, "port_mappings")...) {
			current.PortMappings = oe.PortMappings
		}
		merged.Environments[idx] = current
	}

	if nodeHasPath(overlayNode, "current_environment") {
		merged.Current = overlay.Current
	}

	return &merged
}

func indexOf(envs []schema.Environment, name string) int {
	for i, e := range envs {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// indexKey renders i as a decimal string without pulling in strconv for a
// single call site at the one place that needs it.
func indexKey(i int) string {
	if i == 0 {
		return "0"
	}
	digits := make([]byte, 0, 4)
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

// nodeHasPath reports whether path is present as an explicit key chain in
// a parsed YAML document node. Sequence indices in path are decimal
// strings produced by indexKey.
func nodeHasPath(node *yaml.Node, path ...string) bool {
	if node == nil {
		return false
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	for _, segment := range path {
		switch node.Kind {
		case yaml.MappingNode:
			found := false
			for i := 0; i < len(node.Content); i += 2 {
				if node.Content[i].Value == segment {
					node = node.Content[i+1]
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case yaml.SequenceNode:
			idx := atoiSmall(segment)
			if idx < 0 || idx >= len(node.Content) {
				return false
			}
			node = node.Content[idx]
		default:
			return false
		}
	}
	return true
}

func atoiSmall(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

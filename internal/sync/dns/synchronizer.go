// Package dns is the DNS Synchronizer: it projects domains.yaml into
// BIND-style forward and reverse zone files, bumping each zone's SOA
// serial on every change, and validates emitted content before
// installing it, using exec.CommandContext with a timeout to invoke an
// external validator and miekg/dns for zone-record construction and the
// parse-back validation fallback.
package dns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lakowske/netcore/internal/core"
	"github.com/lakowske/netcore/internal/paths"
	"github.com/lakowske/netcore/internal/schema"
	"github.com/lakowske/netcore/internal/store"
	"github.com/lakowske/netcore/internal/sync"
	"github.com/lakowske/netcore/internal/watch"
	miekgdns "github.com/miekg/dns"
)

const (
	defaultTTL      = 3600
	defaultRefresh  = 3600
	defaultRetry    = 600
	defaultExpire   = 604800
	defaultMinimum  = 300
	validateTimeout = 10 * time.Second
)

// Synchronizer projects domains into zone files. ZoneCheckCmd is the
// external validator invoked before installing a zone, given the zone
// name and file path as its two arguments (the named-checkzone calling
// convention). When empty, or when the named binary isn't on PATH, Plan
// falls back to parsing the rendered content back with miekg/dns.
type Synchronizer struct {
	paths        paths.Paths
	store        *store.Store
	ZoneCheckCmd string
	ReloadFunc   func(ctx context.Context) error
	now          func() time.Time
}

// New returns a DNS Synchronizer rooted at the given environment Paths,
// reading domains through st. ZoneCheckCmd defaults to "named-checkzone".
func New(envPaths paths.Paths, st *store.Store) *Synchronizer {
	return &Synchronizer{paths: envPaths, store: st, ZoneCheckCmd: "named-checkzone", now: time.Now}
}

func (s *Synchronizer) Name() string { return "dns" }

func (s *Synchronizer) Channels() []watch.Channel {
	return []watch.Channel{watch.ChannelDomains}
}

func (s *Synchronizer) Plan(ctx context.Context) (sync.Plan, error) {
	domains, err := s.store.LoadDomains()
	if err != nil {
		return sync.Plan{}, err
	}

	sortedDomains := append([]schema.Domain(nil), domains.Domains...)
	sort.Slice(sortedDomains, func(i, j int) bool { return sortedDomains[i].Name < sortedDomains[j].Name })

	var changes []sync.FileChange
	for _, d := range sortedDomains {
		if !d.IsEnabled() {
			continue
		}

		forwardPath := filepath.Join(s.paths.DNSZonesDir, "db."+d.Name+".zone")
		serial, cerr := s.nextSerial(forwardPath)
		if cerr != nil {
			return sync.Plan{}, cerr
		}
		// A zone whose content is unchanged keeps its serial, so planning
		// again against the same config yields no change.
		if current, readErr := os.ReadFile(forwardPath); readErr == nil {
			if prev, ok := parseSerial(current); ok && string(current) == renderForwardZone(d, prev) {
				serial = prev
			}
		}
		forwardContent := renderForwardZone(d, serial)
		if cerr := s.validateZone(ctx, d.Name, forwardPath, forwardContent); cerr != nil {
			return sync.Plan{}, cerr
		}
		if current, _ := os.ReadFile(forwardPath); string(current) != forwardContent {
			changes = append(changes, sync.FileChange{
				Path: forwardPath, Action: sync.ActionWrite, Content: []byte(forwardContent), Mode: 0o644,
			})
		}

		if len(d.ARecords) == 0 {
			continue
		}
		reverseContent, reverseZoneName, hasReverse := renderReverseZone(d, serial)
		if !hasReverse {
			continue
		}
		reversePath := filepath.Join(s.paths.DNSZonesDir, "db."+d.Name+".rev")
		if cerr := s.validateZone(ctx, reverseZoneName, reversePath, reverseContent); cerr != nil {
			return sync.Plan{}, cerr
		}
		if current, _ := os.ReadFile(reversePath); string(current) != reverseContent {
			changes = append(changes, sync.FileChange{
				Path: reversePath, Action: sync.ActionWrite, Content: []byte(reverseContent), Mode: 0o644,
			})
		}
	}

	return sync.Plan{Synchronizer: s.Name(), Changes: changes}, nil
}

func (s *Synchronizer) Apply(ctx context.Context, plan sync.Plan) error {
	return sync.ApplyFiles(plan)
}

func (s *Synchronizer) Reload(ctx context.Context) error {
	if s.ReloadFunc == nil {
		return nil
	}
	return s.ReloadFunc(ctx)
}

// nextSerial reads the previous SOA serial out of the zone file at path,
// if any, and returns max(previous+1, YYYYMMDD01) so edits remain
// monotonic and date-prefixed even across multiple same-day reconciles.
func (s *Synchronizer) nextSerial(path string) (uint32, *core.Error) {
	today := s.clock().Format("20060102")
	dateFloor, _ := strconv.ParseUint(today+"01", 10, 32)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return uint32(dateFloor), nil
		}
		return 0, core.New(core.KindIOTransient, "failed to read previous zone file for serial bump",
			map[string]any{"path": path, "error": err.Error()})
	}
	prev, ok := parseSerial(data)
	if !ok {
		return uint32(dateFloor), nil
	}
	if uint64(prev)+1 > dateFloor {
		return prev + 1, nil
	}
	return uint32(dateFloor), nil
}

func (s *Synchronizer) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func parseSerial(zoneText []byte) (uint32, bool) {
	tokens := miekgdns.NewZoneParser(bytes.NewReader(zoneText), ".", "")
	for rr, ok := tokens.Next(); ok; rr, ok = tokens.Next() {
		if soa, isSOA := rr.(*miekgdns.SOA); isSOA {
			return soa.Serial, true
		}
	}
	return 0, false
}

// validateZone runs s.ZoneCheckCmd against the rendered content when the
// binary is available on PATH, falling back to parsing it back with
// miekg/dns otherwise, so unit tests never require system binaries.
func (s *Synchronizer) validateZone(ctx context.Context, zoneName, path, content string) *core.Error {
	if s.ZoneCheckCmd != "" {
		if binPath, lookErr := exec.LookPath(s.ZoneCheckCmd); lookErr == nil {
			return s.runZoneCheckCmd(ctx, binPath, zoneName, path, content)
		}
	}
	return validateWithParser(zoneName, content)
}

func (s *Synchronizer) runZoneCheckCmd(ctx context.Context, binPath, zoneName, path, content string) *core.Error {
	tmp, err := os.CreateTemp("", "zonecheck-*.zone")
	if err != nil {
		return core.New(core.KindIOTransient, "failed to stage zone content for validation",
			map[string]any{"zone": zoneName, "error": err.Error()})
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return core.New(core.KindIOTransient, "failed to stage zone content for validation",
			map[string]any{"zone": zoneName, "error": err.Error()})
	}
	tmp.Close()

	runCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, binPath, zoneName, tmp.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return core.New(core.KindConfigValidate, "zone validation failed",
			map[string]any{"zone": zoneName, "path": path, "stderr": strings.TrimSpace(stderr.String())})
	}
	return nil
}

func validateWithParser(zoneName, content string) *core.Error {
	tokens := miekgdns.NewZoneParser(strings.NewReader(content), zoneName, "")
	for _, ok := tokens.Next(); ok; _, ok = tokens.Next() {
	}
	if err := tokens.Err(); err != nil {
		return core.New(core.KindConfigValidate, "zone validation failed",
			map[string]any{"zone": zoneName, "error": err.Error()})
	}
	return nil
}

func renderForwardZone(d schema.Domain, serial uint32) string {
	names := make([]string, 0, len(d.ARecords))
	for name := range d.ARecords {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "$TTL %d\n", defaultTTL)
	fmt.Fprintf(&b, "@ IN SOA ns1.%s. admin.%s. (\n", d.Name, d.Name)
	fmt.Fprintf(&b, "\t\t\t%d ; serial\n", serial)
	fmt.Fprintf(&b, "\t\t\t%d ; refresh\n", defaultRefresh)
	fmt.Fprintf(&b, "\t\t\t%d ; retry\n", defaultRetry)
	fmt.Fprintf(&b, "\t\t\t%d ; expire\n", defaultExpire)
	fmt.Fprintf(&b, "\t\t\t%d ) ; minimum\n", defaultMinimum)
	b.WriteString("@ IN NS ns1." + d.Name + ".\n")
	for _, mx := range d.MXRecords {
		fmt.Fprintf(&b, "@ IN MX 10 %s.\n", mx)
	}
	for _, name := range names {
		fmt.Fprintf(&b, "%s IN A %s\n", name, d.ARecords[name])
	}
	return b.String()
}

// renderReverseZone builds the reverse zone for the /24 network of the
// first A record, in name order, that has an IPv4 address. A records in
// any other /24 get no PTR entry; the reverse path treats one domain as
// one physical segment.
func renderReverseZone(d schema.Domain, serial uint32) (content, zoneName string, ok bool) {
	type ptrEntry struct {
		lastOctet int
		fqdn      string
	}
	var network string
	var entries []ptrEntry

	names := make([]string, 0, len(d.ARecords))
	for name := range d.ARecords {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ip := net.ParseIP(d.ARecords[name]).To4()
		if ip == nil {
			continue
		}
		net24 := fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2])
		if network == "" {
			network = net24
		} else if network != net24 {
			continue
		}
		entries = append(entries, ptrEntry{lastOctet: int(ip[3]), fqdn: name + "." + d.Name + "."})
	}
	if network == "" || len(entries) == 0 {
		return "", "", false
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].lastOctet < entries[j].lastOctet })

	octets := strings.Split(network, ".")
	zoneName = fmt.Sprintf("%s.%s.%s.in-addr.arpa", octets[2], octets[1], octets[0])

	var b strings.Builder
	fmt.Fprintf(&b, "$TTL %d\n", defaultTTL)
	fmt.Fprintf(&b, "@ IN SOA ns1.%s. admin.%s. (\n", d.Name, d.Name)
	fmt.Fprintf(&b, "\t\t\t%d ; serial\n", serial)
	fmt.Fprintf(&b, "\t\t\t%d ; refresh\n", defaultRefresh)
	fmt.Fprintf(&b, "\t\t\t%d ; retry\n", defaultRetry)
	fmt.Fprintf(&b, "\t\t\t%d ; expire\n", defaultExpire)
	fmt.Fprintf(&b, "\t\t\t%d ) ; minimum\n", defaultMinimum)
	b.WriteString("@ IN NS ns1." + d.Name + ".\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%d IN PTR %s\n", e.lastOctet, e.fqdn)
	}
	return b.String(), zoneName, true
}

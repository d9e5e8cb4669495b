package render

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// UnitsRenderer renders lock entries
type UnitsRenderer struct {
	out io.Writer
}

// NewUnitsRenderer creates a new units renderer
func NewUnitsRenderer(out io.Writer) *UnitsRenderer {
	return &UnitsRenderer{out: out}
}

// RenderList renders the entries of each network as a table
func (r *UnitsRenderer) RenderList(groups []usecase.NetworkUnits) error {
	if len(groups) == 0 {
		fmt.Fprintln(r.out, "No deployments found")
		return nil
	}

	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(r.out)
		}
		networkHeader.Fprintf(r.out, " %s ", g.Network)
		fmt.Fprintln(r.out)
		if len(g.Entries) == 0 {
			faintStyle.Fprintln(r.out, "  no units deployed")
			continue
		}

		t := newTable(5)
		for _, e := range g.Entries {
			kind := string(e.Kind)
			if e.IsProxy() {
				kind = string(e.ProxyKind) + " proxy"
			}
			impl := ""
			if e.ImplementationAddress != nil {
				impl = faintStyle.Sprint("impl " + e.ImplementationAddress.Hex())
			}
			t.AppendRow(table.Row{
				"  " + e.Name,
				faintStyle.Sprint(kind),
				addressStyle.Sprint(e.Address.Hex()),
				verifiedLabel(e.Verified),
				impl,
			})
		}
		fmt.Fprintln(r.out, t.Render())
	}
	return nil
}

// RenderEntry renders one lock entry in detail
func (r *UnitsRenderer) RenderEntry(network string, e *models.LockEntry) error {
	sectionHeaderStyle.Fprintf(r.out, "%s", e.Name)
	faintStyle.Fprintf(r.out, " on %s\n", network)

	t := newTable(2)
	t.AppendRow(table.Row{"Address", e.Address.Hex()})
	if e.Kind != "" {
		t.AppendRow(table.Row{"Kind", string(e.Kind)})
	}
	if e.IsProxy() {
		t.AppendRow(table.Row{"Proxy", string(e.ProxyKind)})
		t.AppendRow(table.Row{"Implementation", e.ImplementationAddress.Hex()})
	}
	if e.SourceRef != "" {
		t.AppendRow(table.Row{"Source", e.SourceRef})
	}
	t.AppendRow(table.Row{"Deploy tx", e.DeployTxHash.Hex()})
	if e.UpgradeTxHash != nil {
		t.AppendRow(table.Row{"Upgrade tx", e.UpgradeTxHash.Hex()})
	}
	for _, slot := range slices.Sorted(maps.Keys(e.Libraries)) {
		t.AppendRow(table.Row{"Library " + slot, e.Libraries[slot]})
	}
	if !e.DeployedAt.IsZero() {
		t.AppendRow(table.Row{"Deployed", e.DeployedAt.Format("2006-01-02 15:04:05 MST")})
	}
	t.AppendRow(table.Row{"Verified", verifiedLabel(e.Verified)})
	fmt.Fprintln(r.out, t.Render())
	return nil
}

// RenderABI prints the entry's interface descriptor as indented JSON
func (r *UnitsRenderer) RenderABI(e *models.LockEntry) error {
	if len(e.ABI) == 0 {
		return fmt.Errorf("lock entry for %s has no interface descriptor", e.Name)
	}
	var v any
	if err := json.Unmarshal(e.ABI, &v); err != nil {
		return fmt.Errorf("invalid interface descriptor for %s: %w", e.Name, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.out, string(data))
	return err
}

func verifiedLabel(verified bool) string {
	if verified {
		return verifiedStyle.Sprint("verified")
	}
	return notVerifiedStyle.Sprint("unverified")
}

package render

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// DeployRenderer renders deployment plans and reports
type DeployRenderer struct {
	out io.Writer
}

// NewDeployRenderer creates a new deploy renderer
func NewDeployRenderer(out io.Writer) *DeployRenderer {
	return &DeployRenderer{out: out}
}

// RenderPlan shows what a deployment run would do
func (r *DeployRenderer) RenderPlan(plan *usecase.DeploymentPlan) error {
	sectionHeaderStyle.Fprintf(r.out, "Deployment plan for %s\n", plan.Network)
	faintStyle.Fprintf(r.out, "Lock file: %s\n\n", plan.LockFile)

	if len(plan.Units) == 0 {
		fmt.Fprintln(r.out, "No units declared")
		return nil
	}

	t := newTable(4)
	for i, pu := range plan.Units {
		address := ""
		if pu.Existing != nil {
			address = pu.Existing.Address.Hex()
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("%d.", i+1),
			actionStyle(pu.Action).Sprint(title(string(pu.Action))),
			pu.Unit.Name,
			faintStyle.Sprint(planDetail(pu, address)),
		})
	}
	fmt.Fprintln(r.out, t.Render())

	fmt.Fprintln(r.out)
	if n := plan.Pending(); n > 0 {
		pendingStyle.Fprintf(r.out, "%d of %d unit(s) would send transactions\n", n, len(plan.Units))
	} else {
		fmt.Fprintln(r.out, FormatSuccess("Everything is up to date"))
	}
	return nil
}

func planDetail(pu *usecase.PlannedUnit, address string) string {
	switch {
	case pu.Reason != "" && address != "":
		return fmt.Sprintf("%s (%s)", address, pu.Reason)
	case pu.Reason != "":
		return pu.Reason
	}
	return address
}

// RenderReport shows the per-unit outcome of a deployment run
func (r *DeployRenderer) RenderReport(report *models.DeployReport) error {
	sectionHeaderStyle.Fprintf(r.out, "\nDeployment on %s\n", report.Network)

	t := newTable(4)
	for _, u := range report.Units {
		detail := ""
		switch {
		case u.Err != nil:
			detail = u.Err.Error()
		case u.Implementation != nil:
			detail = "impl " + u.Implementation.Hex()
		}
		address := ""
		if u.Address != (common.Address{}) {
			address = addressStyle.Sprint(u.Address.Hex())
		}
		t.AppendRow(table.Row{
			statusStyle(u.Status).Sprint(statusIcon(u.Status) + " " + title(string(u.Status))),
			u.Name,
			address,
			faintStyle.Sprint(detail),
		})
	}
	fmt.Fprintln(r.out, t.Render())

	fmt.Fprintf(r.out, "\n%d deployed, %d upgraded, %d skipped",
		report.Count(models.StatusDeployed), report.Count(models.StatusUpgraded), report.Count(models.StatusSkipped))
	if n := report.Count(models.StatusFailed); n > 0 {
		notVerifiedStyle.Fprintf(r.out, ", %d failed", n)
	}
	if n := report.Count(models.StatusPending); n > 0 {
		pendingStyle.Fprintf(r.out, ", %d not reached", n)
	}
	fmt.Fprintln(r.out)

	if report.Verification != nil {
		return NewVerifyRenderer(r.out).RenderSummary(report.Verification)
	}
	return nil
}

func actionStyle(a models.UnitAction) *color.Color {
	switch a {
	case models.ActionSkip:
		return faintStyle
	case models.ActionUpgrade:
		return color.New(color.FgMagenta)
	case models.ActionRedeploy:
		return pendingStyle
	}
	return color.New(color.FgCyan)
}

func statusStyle(s models.UnitStatus) *color.Color {
	switch s {
	case models.StatusDeployed, models.StatusUpgraded:
		return verifiedStyle
	case models.StatusFailed:
		return notVerifiedStyle
	case models.StatusPending:
		return pendingStyle
	}
	return faintStyle
}

func statusIcon(s models.UnitStatus) string {
	switch s {
	case models.StatusDeployed:
		return "✓"
	case models.StatusUpgraded:
		return "↑"
	case models.StatusFailed:
		return "✗"
	case models.StatusPending:
		return "○"
	}
	return "-"
}

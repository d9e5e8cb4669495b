package render

import (
	"fmt"
	"io"

	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// VerifyRenderer handles rendering of verification results
type VerifyRenderer struct {
	out io.Writer
}

// NewVerifyRenderer creates a new verify renderer
func NewVerifyRenderer(out io.Writer) *VerifyRenderer {
	return &VerifyRenderer{out: out}
}

// RenderSummary renders the outcome of a verification run
func (r *VerifyRenderer) RenderSummary(summary *models.VerificationSummary) error {
	total := len(summary.Results)
	if total == 0 {
		if len(summary.Skipped) > 0 {
			fmt.Fprintf(r.out, "\nAll %d unit(s) on %s are already verified. Use --force to resubmit.\n", len(summary.Skipped), summary.Network)
		} else {
			pendingStyle.Fprintf(r.out, "\nNo deployed units to verify on %s.\n", summary.Network)
		}
		return nil
	}

	sectionHeaderStyle.Fprintf(r.out, "\nVerification on %s\n", summary.Network)
	for _, res := range summary.Results {
		if res.Success {
			verifiedStyle.Fprintf(r.out, "  ✓ %s", res.Name)
			faintStyle.Fprintf(r.out, " %s\n", res.Address.Hex())
			continue
		}
		notVerifiedStyle.Fprintf(r.out, "  ✗ %s", res.Name)
		faintStyle.Fprintf(r.out, " %s\n", res.Address.Hex())
		if res.Err != nil {
			notVerifiedStyle.Fprintf(r.out, "      %s\n", res.Err)
		}
	}
	for _, name := range summary.Skipped {
		faintStyle.Fprintf(r.out, "  - %s (already verified)\n", name)
	}

	fmt.Fprintf(r.out, "\nVerification complete: %d/%d successful\n", summary.SuccessCount(), total)
	if failed := len(summary.Failures()); failed > 0 {
		fmt.Fprintln(r.out, FormatWarning(fmt.Sprintf("%d unit(s) remain unverified; rerun `bundler verify` to retry them", failed)))
	}
	return nil
}

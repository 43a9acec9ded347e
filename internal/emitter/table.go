package emitter

import (
	"fmt"
	"strings"

	"github.com/m2osw/ipload/internal/model"
)

// Options controls table-level emission behavior not tied to any single
// rule.
type Options struct {
	// OutputEmptyTables, when false (the default), skips a table that
	// produced no effective rules.
	OutputEmptyTables bool
}

// EmitTable renders one table's `*TABLE ... COMMIT` block for both
// restore scripts, per spec §4.7's closing paragraphs: chain declarations
// with policy, each chain's sorted rules, a trailing LOG plus closing jump
// per chain, in that order.
func EmitTable(table model.TableName, chainRefs []*model.ChainRef, opts Options) (Lines, error) {
	var body Lines
	var chainHeaders Lines

	for _, ref := range chainRefs {
		chain := ref.Chain
		policy := "-"
		if model.IsSystemChain(chain.Name) {
			policy = string(chain.Policy)
		}
		header := fmt.Sprintf(":%s %s [0:0]", chain.Name, policy)
		chainHeaders.V4 = append(chainHeaders.V4, header)
		chainHeaders.V6 = append(chainHeaders.V6, header)

		var chainLines Lines
		for _, sref := range ref.Sections {
			for _, rule := range sref.Rules {
				if !rule.Enabled {
					continue
				}
				l, err := EmitRule(rule, chain)
				if err != nil {
					return Lines{}, err
				}
				chainLines.V4 = append(chainLines.V4, l.V4...)
				chainLines.V6 = append(chainLines.V6, l.V6...)
			}
		}

		if chain.LogPrefix != "" && len(chainLines.V4) > 0 {
			logLine := fmt.Sprintf(`-A %s -j LOG --log-prefix "%s"`, chain.Name, truncateComment(chain.LogPrefix, 29))
			chainLines.V4 = append(chainLines.V4, logLine)
			chainLines.V6 = append(chainLines.V6, logLine)
		}
		if chain.Closing != model.ClosingNone && len(chainLines.V4) > 0 {
			closing := closingLine(chain)
			chainLines.V4 = append(chainLines.V4, closing)
			chainLines.V6 = append(chainLines.V6, closing)
		}

		body.V4 = append(body.V4, chainLines.V4...)
		body.V6 = append(body.V6, chainLines.V6...)
	}

	if len(body.V4) == 0 && !opts.OutputEmptyTables {
		return Lines{}, nil
	}

	return Lines{
		V4: assembleTable(table, chainHeaders.V4, body.V4),
		V6: assembleTable(table, chainHeaders.V6, body.V6),
	}, nil
}

func assembleTable(table model.TableName, headers, body []string) []string {
	out := []string{"*" + string(table)}
	out = append(out, headers...)
	out = append(out, body...)
	out = append(out, "COMMIT")
	return out
}

func closingLine(chain *model.Chain) string {
	switch chain.Closing {
	case model.ClosingReturn:
		return fmt.Sprintf("-A %s -j RETURN", chain.Name)
	case model.ClosingDrop:
		return fmt.Sprintf("-A %s -j DROP", chain.Name)
	case model.ClosingReject:
		return fmt.Sprintf("-A %s -j REJECT", chain.Name)
	default:
		return fmt.Sprintf("-A %s -j %s", chain.Name, strings.ToUpper(string(chain.Closing)))
	}
}

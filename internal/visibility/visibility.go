// Package visibility applies the engine's two redaction policies before
// nodes leave for display. The policies are independent and point in
// opposite relational directions:
//
//   - Rule A (depth masking) limits PII exposure by hierarchical distance
//     when a node looks DOWN at its descendants. Unconditional; does not
//     consult any owner preference.
//   - Rule B (sponsor opt-out) lets a node withhold its detail record from
//     everyone beneath it when they look UP at their sponsors. Owner
//     controlled via privacy.hideFromDownline.
//
// They must never be merged into one flag: a node can be fully visible to
// its direct children as a team member under Rule A while being invisible
// to the same children as a sponsor under Rule B.
//
// Both rules affect display only. Aggregation always consumes raw nodes.
package visibility

import (
	"github.com/nupips/team-engine/internal/model"
)

// RedactedMarker replaces masked PII fields so callers can distinguish
// "redacted" from "no data".
const RedactedMarker = "[REDACTED]"

// RedactDescendants applies Rule A in place to a descendant tree.
//
// The query root (level 0) is never redacted. Direct children (level 1)
// keep full contact and financial detail. Everything deeper keeps identity,
// status, and per-node earnings, but loses email, phone, and financial
// detail, and is flagged restricted so UIs can render a "Private" badge.
//
// Applying RedactDescendants twice yields the same tree as applying it
// once.
func RedactDescendants(root *model.TreeNode) {
	if root == nil {
		return
	}
	for i := range root.Children {
		redactSubtree(&root.Children[i])
	}
}

func redactSubtree(n *model.TreeNode) {
	if n.Level > 1 {
		n.Email = RedactedMarker
		n.Phone = RedactedMarker
		n.WalletBalance = nil
		n.Financials = nil
		n.Restricted = true
	}
	for i := range n.Children {
		redactSubtree(&n.Children[i])
	}
}

// SponsorVisible reports whether a sponsor's detail record may be shown to
// a member of its own downline (Rule B). The check is per node; it applies
// at every hop of a sponsor chain.
func SponsorVisible(sponsor model.UserNode) bool {
	return !sponsor.Privacy.HideFromDownline
}

// RenderSponsorChain converts a raw ancestor chain into display nodes with
// Rule B applied at every hop. A hidden ancestor still occupies its place
// in the chain — the chain's shape is not secret, its details are — but
// carries no identity, contact, or financial fields at all.
func RenderSponsorChain(chain []model.Ancestor) []model.TreeNode {
	out := make([]model.TreeNode, 0, len(chain))
	for _, a := range chain {
		if !SponsorVisible(a.Node) {
			out = append(out, model.TreeNode{Level: a.Hop, DetailsHidden: true})
			continue
		}
		out = append(out, model.NewTreeNode(a.Node, a.Hop))
	}
	return out
}

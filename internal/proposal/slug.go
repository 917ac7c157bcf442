package proposal

import "github.com/nostrgit/ngit/internal/coordinate"

// AssignSlugs sets Slug on every proposal to its branch name, appending a
// "(<8 chars of id>)" disambiguation suffix when two or more proposals in
// the same indexing pass share a branch name (§4.5).
func AssignSlugs(proposals []coordinate.Proposal) {
	counts := map[string]int{}
	for _, p := range proposals {
		counts[p.BranchName]++
	}
	for i := range proposals {
		p := &proposals[i]
		if counts[p.BranchName] > 1 {
			p.Slug = p.BranchName + "(" + p.ShortID() + ")"
		} else {
			p.Slug = p.BranchName
		}
	}
}

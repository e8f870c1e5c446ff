package fetch

// Branches lists the branches tried when resolving a README, in the
// default search order. master is tried before main because it covers
// roughly 70% of archived repositories — trying it first minimizes the
// expected number of 404s per repo. Callers can override the order via
// Config.Branches.
var Branches = []string{"master", "main"}

// READMENames lists the filenames tried for each branch, README.md
// first since it is overwhelmingly the common case.
var READMENames = []string{
	"README.md", "readme.md", "Readme.md", "ReadMe.md",
	"README.markdown", "readme.markdown", "Readme.markdown",
	"README.mkd", "README.mdown", "README.mkdn",
	"README.asciidoc", "readme.asciidoc", "README.adoc", "readme.adoc",
	"README.rst", "readme.rst",
	"README.rdoc",
	"README.textile",
	"README.org",
	"README.txt", "Readme.txt", "readme.txt", "README.TXT",
	"README.MD",
	"readme.html",
	"README",
}

// Candidate is one (branch, filename) pair to try against the raw host.
type Candidate struct {
	Branch   string
	Filename string
}

// Candidates enumerates the README_NAMES x BRANCHES product, filename
// outermost: every branch is tried for README.md before moving on to
// the next filename. Since README.md on the repo's actual default
// branch is overwhelmingly the common case, this resolves it in at most
// len(branches) requests regardless of how far down README_NAMES a rarer
// filename would otherwise sit.
func Candidates(branches, names []string) []Candidate {
	out := make([]Candidate, 0, len(branches)*len(names))
	for _, n := range names {
		for _, b := range branches {
			out = append(out, Candidate{Branch: b, Filename: n})
		}
	}
	return out
}

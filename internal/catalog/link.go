package catalog

import "fmt"

// Link locates the installable artifact of a candidate. Exactly one of
// NoLink, DirectLink, SplitArchiveLink or MultiPartLink.
type Link interface {
	isLink()
	fmt.Stringer
}

// NoLink means the catalog offers nothing installable.
type NoLink struct{}

// DirectLink is a single package file.
type DirectLink struct {
	URL  string
	Size int64 // 0 when unknown
}

// SplitArchiveLink is a zip bundle whose .apk entries form one split install.
type SplitArchiveLink struct {
	URL string
}

// MultiPartLink lists the files of a split install individually.
type MultiPartLink struct {
	Parts []PartLink
}

type PartLink struct {
	URL  string
	Size int64
}

func (NoLink) isLink()           {}
func (DirectLink) isLink()       {}
func (SplitArchiveLink) isLink() {}
func (MultiPartLink) isLink()    {}

func (NoLink) String() string             { return "none" }
func (l DirectLink) String() string       { return "direct " + l.URL }
func (l SplitArchiveLink) String() string { return "archive " + l.URL }
func (l MultiPartLink) String() string    { return fmt.Sprintf("multi(%d parts)", len(l.Parts)) }

// DeclaredSize sums the sizes the catalog advertised. Split archives are
// unknown until fetched.
func DeclaredSize(l Link) (int64, error) {
	switch v := l.(type) {
	case DirectLink:
		return v.Size, nil
	case MultiPartLink:
		var total int64
		for _, p := range v.Parts {
			total += p.Size
		}
		return total, nil
	case SplitArchiveLink, NoLink:
		return 0, nil
	default:
		return 0, fmt.Errorf("catalog: unhandled link type %T", l)
	}
}

// PrimaryURL is the URL handed to a browser for external candidates.
func PrimaryURL(l Link) (string, bool) {
	switch v := l.(type) {
	case DirectLink:
		return v.URL, v.URL != ""
	case SplitArchiveLink:
		return v.URL, v.URL != ""
	case MultiPartLink:
		if len(v.Parts) == 0 {
			return "", false
		}
		return v.Parts[0].URL, v.Parts[0].URL != ""
	default:
		return "", false
	}
}

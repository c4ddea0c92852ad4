package catalog

import (
	"slices"
	"strings"
)

func versionTagged(version, tag string) bool {
	return strings.Contains(strings.ToLower(version), tag)
}

// FilterVersions drops candidates the user opted out of: alpha and beta
// version names and catalog-flagged pre-releases.
func FilterVersions(candidates []Candidate, prefs Preferences) []Candidate {
	ignoreAlpha := prefs.IgnoreAlphaVersions()
	ignoreBeta := prefs.IgnoreBetaVersions()
	ignorePre := prefs.IgnorePreReleases()

	out := candidates[:0:0]
	for _, c := range candidates {
		if ignoreAlpha && versionTagged(c.Version, "alpha") {
			continue
		}
		if ignoreBeta && versionTagged(c.Version, "beta") {
			continue
		}
		if ignorePre && c.PreRelease {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FilterSignatures drops candidates signed by someone other than the signer
// of the installed package. Candidates that declare no signatures pass.
func FilterSignatures(candidates []Candidate, installed []InstalledApp) []Candidate {
	signers := make(map[string]string, len(installed))
	for _, app := range installed {
		signers[app.PackageName] = app.Signature
	}

	out := candidates[:0:0]
	for _, c := range candidates {
		if len(c.Signatures) > 0 && !slices.Contains(c.Signatures, signers[c.PackageName]) {
			log.Debug("dropping candidate with foreign signature", "package", c.PackageName, "catalog", c.Source)
			continue
		}
		out = append(out, c)
	}
	return out
}

package catalog

import (
	"encoding/binary"
	"strconv"

	"lukechampine.com/blake3"
)

// InstalledApp is a package currently present on the device.
type InstalledApp struct {
	PackageName string `json:"packageName" yaml:"package"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	VersionCode int64  `json:"versionCode" yaml:"version_code"`
	Signature   string `json:"signature,omitempty" yaml:"signature"`
}

// Candidate is an installable version offered by a catalog.
type Candidate struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	PackageName    string   `json:"packageName"`
	Version        string   `json:"version"`
	OldVersion     string   `json:"oldVersion,omitempty"`
	VersionCode    int64    `json:"versionCode"`
	OldVersionCode int64    `json:"oldVersionCode,omitempty"`
	Source         string   `json:"source"`
	IconURL        string   `json:"iconUrl,omitempty"`
	Link           Link     `json:"-"`
	Changelog      string   `json:"changelog,omitempty"`
	Signatures     []string `json:"signatures,omitempty"`
	PreRelease     bool     `json:"preRelease,omitempty"`

	// External candidates are opened in a browser instead of installed.
	External bool `json:"external,omitempty"`

	Installing  bool  `json:"installing,omitempty"`
	Transferred int64 `json:"transferred,omitempty"`
	Total       int64 `json:"total,omitempty"`
}

// CorrelationID derives the stable id that ties a candidate to its install
// attempt, progress events and ignore entry.
func CorrelationID(packageName string, versionCode int64) int {
	h := blake3.New(32, nil)
	h.Write([]byte(packageName))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(versionCode, 10)))
	sum := h.Sum(nil)
	return int(binary.BigEndian.Uint32(sum[:4]) & 0x7fffffff)
}

package mvkv

import "fmt"

// Version constants
const (
	Major = 0
	Minor = 3
	Patch = 0
)

// VersionInfo describes the library build.
type VersionInfo struct {
	Major        uint8
	Minor        uint8
	Patch        uint8
	FormatMagic  uint64
	FormatVer    uint32
	Describe     string
	DataFileName string
}

// Version returns a human readable version string.
func Version() string {
	return fmt.Sprintf("mvkv %d.%d.%d (data format v%d)", Major, Minor, Patch, metaVersion)
}

// GetVersionInfo returns version information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Major:        Major,
		Minor:        Minor,
		Patch:        Patch,
		FormatMagic:  metaMagic,
		FormatVer:    metaVersion,
		Describe:     fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch),
		DataFileName: DataFileName,
	}
}

package types

// AssetKind enumerates the platform-coupled constructs the classifier detects.
type AssetKind string

const (
	AssetFunctionHandler AssetKind = "function_handler"
	AssetTable           AssetKind = "table"
	AssetAccessPolicy    AssetKind = "access_policy"
	AssetConfigReference AssetKind = "config_reference"
)

// AssetKinds lists the kinds the classifier emits, in reporting order.
// Config-only functions are emitted as AssetFunctionHandler carrying
// DetailsReferencedInConfig; AssetConfigReference is accepted on input.
var AssetKinds = []AssetKind{AssetFunctionHandler, AssetTable, AssetAccessPolicy}

// DetailsReferencedInConfig marks a function declared in the platform
// configuration whose handler file is not part of the source set.
const DetailsReferencedInConfig = "referenced in config"

// DetectedAsset is one classified construct. Names are unique only per kind.
type DetectedAsset struct {
	Kind       AssetKind `json:"kind"`
	Name       string    `json:"name"`
	SourcePath string    `json:"sourcePath"`
	Details    string    `json:"details,omitempty"`
}

// IsConfigReference reports whether the asset came from the configuration
// file only and has no handler content.
func (a DetectedAsset) IsConfigReference() bool {
	if a.Kind == AssetConfigReference {
		return true
	}
	return a.Kind == AssetFunctionHandler && a.Details == DetailsReferencedInConfig
}

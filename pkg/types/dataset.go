// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Author is one entry of a dataset's citation author list.
// Either field may be absent in the source metadata.
type Author struct {
	// Name is the author's name as cited (e.g. "Doe, Jane").
	Name *string `json:"name" yaml:"name"`

	// Affiliation is the author's institutional affiliation.
	Affiliation *string `json:"affiliation" yaml:"affiliation"`
}

// DatasetRecord is the distilled metadata of one dataset. It is written as
// the per-dataset side-record {metaDir}/{ID}_authors.json.
type DatasetRecord struct {
	// ID is the dataset's numeric identifier, kept as a string.
	ID string `json:"dataset_id" yaml:"dataset_id"`

	// PersistentID is the dataset's DOI-like identifier.
	PersistentID string `json:"dataset_persistent_id" yaml:"dataset_persistent_id"`

	// Name is the dataset's display name.
	Name string `json:"dataset_name" yaml:"dataset_name"`

	// Authors lists the dataset's authors in citation order.
	Authors []Author `json:"authors" yaml:"authors"`
}

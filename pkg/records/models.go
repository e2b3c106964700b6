// Package records stores the data an import run produces: datasets, import
// files, property states and the canonical property views that matching
// resolves them to.
package records

import (
	"time"

	"gorm.io/datatypes"
)

// Cycle is a reporting period that property views belong to.
type Cycle struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;index;not null" json:"organizationId"`
	Name           string    `gorm:"column:name;not null" json:"name"`
	Start          time.Time `gorm:"column:start_date" json:"start"`
	End            time.Time `gorm:"column:end_date" json:"end"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (Cycle) TableName() string { return "cycles" }

// ImportRecord is the dataset one import run creates.
type ImportRecord struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;index;not null" json:"organizationId"`
	Name           string    `gorm:"column:name;not null" json:"name"`
	OwnerID        string    `gorm:"column:owner_id" json:"ownerId"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (ImportRecord) TableName() string { return "import_records" }

// ColumnMapping maps one source column to a target field.
type ColumnMapping struct {
	FromField   string `json:"from_field" yaml:"from_field"`
	ToField     string `json:"to_field" yaml:"to_field"`
	ToTableName string `json:"to_table_name" yaml:"to_table_name"`
}

// SourceTypeAssessedRaw is the source type of every autoloaded file.
const SourceTypeAssessedRaw = "Assessed Raw"

// ImportFile is an uploaded file moving through the import pipeline. Its
// Status follows the ImportStatus state machine.
type ImportFile struct {
	ID                   string                             `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ImportRecordID       string                             `gorm:"column:import_record_id;index;not null" json:"importRecordId"`
	CycleID              string                             `gorm:"column:cycle_id;not null" json:"cycleId"`
	OrganizationID       string                             `gorm:"column:organization_id;index;not null" json:"organizationId"`
	UploadedFilename     string                             `gorm:"column:uploaded_filename" json:"uploadedFilename"`
	FileRef              string                             `gorm:"column:file_ref" json:"fileRef"`
	SourceType           string                             `gorm:"column:source_type" json:"sourceType"`
	Status               ImportStatus                       `gorm:"column:status;index;not null" json:"status"`
	FailedStage          string                             `gorm:"column:failed_stage" json:"failedStage,omitempty"`
	LastError            string                             `gorm:"column:last_error" json:"lastError,omitempty"`
	CachedColumnMappings datatypes.JSONSlice[ColumnMapping] `gorm:"column:cached_column_mappings" json:"-"`
	RawRows              int                                `gorm:"column:raw_rows" json:"rawRows"`
	MappedRows           int                                `gorm:"column:mapped_rows" json:"mappedRows"`
	MatchedRows          int                                `gorm:"column:matched_rows" json:"matchedRows"`
	CreatedAt            time.Time                          `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt            time.Time                          `gorm:"column:updated_at" json:"updatedAt"`
}

func (ImportFile) TableName() string { return "import_files" }

// DataState is the processing stage a PropertyState has reached.
type DataState string

const (
	DataStateRaw     DataState = "raw"
	DataStateMapped  DataState = "mapped"
	DataStateMatched DataState = "matched"
)

// MergeState records how matching treated a PropertyState.
type MergeState string

const (
	MergeStateUnknown MergeState = "unknown"
	MergeStateNew     MergeState = "new"
	MergeStateMerged  MergeState = "merged"
)

// PropertyState is one row of an imported file, first raw and later mapped
// onto typed columns.
type PropertyState struct {
	ID                   string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID       string            `gorm:"column:organization_id;index:idx_state_org_addr,priority:1;not null" json:"organizationId"`
	ImportFileID         string            `gorm:"column:import_file_id;index:idx_state_file_data,priority:1" json:"importFileId,omitempty"`
	CycleID              string            `gorm:"column:cycle_id" json:"cycleId"`
	DataState            DataState         `gorm:"column:data_state;index:idx_state_file_data,priority:2;not null" json:"dataState"`
	MergeState           MergeState        `gorm:"column:merge_state;not null;default:unknown" json:"mergeState"`
	RowNumber            int               `gorm:"column:source_row" json:"rowNumber"`
	RawData              datatypes.JSONMap `gorm:"column:raw_data" json:"rawData,omitempty"`
	AddressLine1         string            `gorm:"column:address_line_1" json:"addressLine1,omitempty"`
	AddressLine2         string            `gorm:"column:address_line_2" json:"addressLine2,omitempty"`
	City                 string            `gorm:"column:city" json:"city,omitempty"`
	State                string            `gorm:"column:state" json:"state,omitempty"`
	PostalCode           string            `gorm:"column:postal_code" json:"postalCode,omitempty"`
	NormalizedAddress    string            `gorm:"column:normalized_address;index:idx_state_org_addr,priority:2" json:"normalizedAddress,omitempty"`
	NormalizedPostalCode string            `gorm:"column:normalized_postal_code" json:"normalizedPostalCode,omitempty"`
	PropertyName         string            `gorm:"column:property_name" json:"propertyName,omitempty"`
	EnergyScore          *int              `gorm:"column:energy_score" json:"energyScore,omitempty"`
	GrossFloorArea       *float64          `gorm:"column:gross_floor_area" json:"grossFloorArea,omitempty"`
	YearBuilt            *int              `gorm:"column:year_built" json:"yearBuilt,omitempty"`
	CustomID1            string            `gorm:"column:custom_id_1" json:"customId1,omitempty"`
	ExtraData            datatypes.JSONMap `gorm:"column:extra_data" json:"extraData,omitempty"`
	CreatedAt            time.Time         `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt            time.Time         `gorm:"column:updated_at" json:"updatedAt"`
}

func (PropertyState) TableName() string { return "property_states" }

// Property is a building tracked across cycles.
type Property struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;index;not null" json:"organizationId"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (Property) TableName() string { return "properties" }

// PropertyView is the canonical entity: one property in one cycle, pointing
// at its current merged state.
type PropertyView struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID string    `gorm:"column:organization_id;index;not null" json:"organizationId"`
	PropertyID     string    `gorm:"column:property_id;uniqueIndex:idx_view_property_cycle,priority:1;not null" json:"propertyId"`
	CycleID        string    `gorm:"column:cycle_id;uniqueIndex:idx_view_property_cycle,priority:2;not null" json:"cycleId"`
	StateID        string    `gorm:"column:state_id;index;not null" json:"stateId"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (PropertyView) TableName() string { return "property_views" }

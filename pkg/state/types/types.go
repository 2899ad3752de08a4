// Package types defines the data structures for groundctl state.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Snapshot is the versioned record of everything previously applied under a
// single state key. It is read at plan time and written back incrementally
// at apply time; a plan is bound to the digest of the snapshot it was
// computed against.
type Snapshot struct {
	// Key is the logical state identifier this snapshot belongs to.
	Key string `json:"key"`

	// Serial increases by one on every accepted write.
	Serial uint64 `json:"serial"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Resources maps resource instance identity to its last-known state.
	Resources map[string]*ResourceRecord `json:"resources,omitempty"`
}

// ResourceRecord is the last-known state of a single resource instance.
type ResourceRecord struct {
	// Identity
	Module   string `json:"module"`
	Template string `json:"template"`
	Index    int    `json:"index"`
	Kind     string `json:"kind"`

	// Attributes are the evaluated inputs the instance was last applied with.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// Outputs are the provider-assigned values observed at apply time.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// DependsOn lists the instance IDs this record depended on when applied.
	// Used to order deletes of resources that are no longer declared.
	DependsOn []string `json:"depends_on,omitempty"`

	// Lifecycle captures the template's lifecycle policy at apply time so
	// the planner can honor it after the template disappears.
	Lifecycle LifecycleRecord `json:"lifecycle"`

	Status       ResourceStatus `json:"status"`
	StatusReason string         `json:"status_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LifecycleRecord is the persisted form of a template's lifecycle policy.
type LifecycleRecord struct {
	CreateBeforeDestroy bool     `json:"create_before_destroy,omitempty"`
	PreventDestroy      bool     `json:"prevent_destroy,omitempty"`
	IgnoreOnUpdate      []string `json:"ignore_on_update,omitempty"`
}

// ResourceStatus represents the status of a resource.
type ResourceStatus string

const (
	ResourceStatusPending      ResourceStatus = "pending"
	ResourceStatusProvisioning ResourceStatus = "provisioning"
	ResourceStatusReady        ResourceStatus = "ready"
	ResourceStatusFailed       ResourceStatus = "failed"
	ResourceStatusDeleting     ResourceStatus = "deleting"
)

// InstanceID builds the stable identity of a resource instance.
func InstanceID(module, template string, index int) string {
	return fmt.Sprintf("%s/%s[%d]", module, template, index)
}

// ID returns the record's instance identity.
func (r *ResourceRecord) ID() string {
	return InstanceID(r.Module, r.Template, r.Index)
}

// NewSnapshot creates an empty snapshot for the given state key.
func NewSnapshot(key string) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		Key:       key,
		Serial:    0,
		CreatedAt: now,
		UpdatedAt: now,
		Resources: make(map[string]*ResourceRecord),
	}
}

// Digest computes the content digest of the snapshot. Records are hashed in
// sorted identity order so the digest is stable across marshal order.
func (s *Snapshot) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%d\n", s.Key, s.Serial)

	ids := make([]string, 0, len(s.Resources))
	for id := range s.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		data, err := json.Marshal(s.Resources[id])
		if err != nil {
			// Records hold only JSON-encodable values; a failure here means
			// a programming error upstream.
			panic(fmt.Sprintf("state: failed to hash record %s: %v", id, err))
		}
		h.Write([]byte(id))
		h.Write(data)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Put merges a record into the snapshot and bumps the serial.
func (s *Snapshot) Put(record *ResourceRecord) {
	if s.Resources == nil {
		s.Resources = make(map[string]*ResourceRecord)
	}
	s.Resources[record.ID()] = record
	s.Serial++
	s.UpdatedAt = time.Now().UTC()
}

// Remove deletes a record from the snapshot and bumps the serial.
func (s *Snapshot) Remove(id string) {
	if _, ok := s.Resources[id]; !ok {
		return
	}
	delete(s.Resources, id)
	s.Serial++
	s.UpdatedAt = time.Now().UTC()
}

// SortedIDs returns the instance identities in the snapshot in sorted order.
func (s *Snapshot) SortedIDs() []string {
	ids := make([]string, 0, len(s.Resources))
	for id := range s.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

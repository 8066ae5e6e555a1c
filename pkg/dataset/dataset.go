package dataset

import "sync"

// Dataset is the shared result container of one class. Objects keep
// references to the records it holds.
type Dataset struct {
	mu      sync.Mutex
	name    string
	open    bool
	records []*Record
}

// NewDataset returns a closed dataset.
func NewDataset(name string) *Dataset {
	return &Dataset{name: name}
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// IsOpen reports whether records have been loaded.
func (d *Dataset) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Open replaces the content of the dataset.
func (d *Dataset) Open(records []*Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append([]*Record(nil), records...)
	d.open = true
}

// Append adds records to an open dataset. Duplicates are kept; opening a
// closed dataset is implied.
func (d *Dataset) Append(records []*Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, records...)
	d.open = true
}

// Remove drops a record.
func (d *Dataset) Remove(rec *Record) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.records {
		if r == rec {
			d.records = append(d.records[:i], d.records[i+1:]...)
			return true
		}
	}
	return false
}

// Records returns a snapshot of the records.
func (d *Dataset) Records() []*Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Record(nil), d.records...)
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Close drops every record.
func (d *Dataset) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = nil
	d.open = false
}

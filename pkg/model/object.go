package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrObjectAlreadyExists  = errors.New("object instance already exists")
	ErrObjectAlreadyDeleted = errors.New("object instance was already deleted")
	ErrSnapshotOutOfRange   = errors.New("snapshot timestamp outside instance lifetime")
)

// ObjectSnapshot is a dated args bag belonging to exactly one object instance
type ObjectSnapshot struct {
	// Instance is the owning object instance
	Instance *ObjectInstance
	Ts       float64
	Args     map[string]interface{}
	// BaseTypeName records the base_type control key of the snapshot event
	BaseTypeName string
}

// ObjectInstance is one live range of a (process, category, id) object
type ObjectInstance struct {
	process  *Process
	Category string
	// TypeName is the object's type, from its creation or first typed snapshot
	TypeName string
	ID       string
	ColorID  int

	CreationTs         float64
	CreationTsExplicit bool
	DeletionTs         float64
	DeletionTsExplicit bool

	Snapshots []*ObjectSnapshot
}

func newObjectInstance(process *Process, id, category, typeName string, creationTs float64, explicit bool) *ObjectInstance {
	return &ObjectInstance{
		process:            process,
		Category:           category,
		TypeName:           typeName,
		ID:                 id,
		ColorID:            ColorIDForString(typeName),
		CreationTs:         creationTs,
		CreationTsExplicit: explicit,
		DeletionTs:         math.Inf(1),
	}
}

func (i *ObjectInstance) Process() *Process {
	return i.process
}

// IsDeleted reports whether the instance's live range has been closed
func (i *ObjectInstance) IsDeleted() bool {
	return !math.IsInf(i.DeletionTs, 1)
}

// AddSnapshot appends a snapshot at ts, extending an implicit creation time
// downward when needed
func (i *ObjectInstance) AddSnapshot(ts float64, args map[string]interface{}, baseTypeName string) (*ObjectSnapshot, error) {
	if ts < i.CreationTs {
		if i.CreationTsExplicit {
			return nil, fmt.Errorf("snapshot at %v precedes creation at %v: %w", ts, i.CreationTs, ErrSnapshotOutOfRange)
		}
		i.CreationTs = ts
	}
	if i.IsDeleted() && ts > i.DeletionTs {
		return nil, fmt.Errorf("snapshot at %v follows deletion at %v: %w", ts, i.DeletionTs, ErrSnapshotOutOfRange)
	}
	snapshot := &ObjectSnapshot{
		Instance:     i,
		Ts:           ts,
		Args:         args,
		BaseTypeName: baseTypeName,
	}
	i.Snapshots = append(i.Snapshots, snapshot)
	return snapshot, nil
}

func (i *ObjectInstance) wasDeleted(ts float64, explicit bool) error {
	if i.IsDeleted() && i.DeletionTsExplicit {
		return fmt.Errorf("object %s: %w", i.ID, ErrObjectAlreadyDeleted)
	}
	if ts < i.CreationTs {
		return fmt.Errorf("deletion at %v precedes creation at %v: %w", ts, i.CreationTs, ErrSnapshotOutOfRange)
	}
	i.DeletionTs = ts
	i.DeletionTsExplicit = explicit
	return nil
}

func (i *ObjectInstance) updateBounds(b *Bounds) {
	b.AddValue(i.CreationTs)
	if i.IsDeleted() {
		b.AddValue(i.DeletionTs)
	}
	for _, snapshot := range i.Snapshots {
		b.AddValue(snapshot.Ts)
	}
}

func (i *ObjectInstance) shiftTimestampsForward(amount float64) {
	i.CreationTs += amount
	if i.IsDeleted() {
		i.DeletionTs += amount
	}
	for _, snapshot := range i.Snapshots {
		snapshot.Ts += amount
	}
}

// ObjectCollection owns the object instances of one process, keyed by id. An
// id may pass through several live ranges over the trace.
type ObjectCollection struct {
	process *Process

	instancesByID map[string][]*ObjectInstance
	instances     []*ObjectInstance
}

func NewObjectCollection(process *Process) *ObjectCollection {
	return &ObjectCollection{
		process:       process,
		instancesByID: map[string][]*ObjectInstance{},
	}
}

func (c *ObjectCollection) Instances() []*ObjectInstance {
	return c.instances
}

// LatestInstance returns the most recent live range for id, or nil
func (c *ObjectCollection) LatestInstance(id string) *ObjectInstance {
	ranges := c.instancesByID[id]
	if len(ranges) == 0 {
		return nil
	}
	return ranges[len(ranges)-1]
}

func (c *ObjectCollection) addInstance(instance *ObjectInstance) *ObjectInstance {
	c.instancesByID[instance.ID] = append(c.instancesByID[instance.ID], instance)
	c.instances = append(c.instances, instance)
	return instance
}

// IDWasCreated opens a new explicit live range for id at ts
func (c *ObjectCollection) IDWasCreated(id, category, name string, ts float64) (*ObjectInstance, error) {
	latest := c.LatestInstance(id)
	if latest != nil {
		if !latest.IsDeleted() {
			return nil, fmt.Errorf("id %s is still alive: %w", id, ErrObjectAlreadyExists)
		}
		if ts < latest.DeletionTs {
			return nil, fmt.Errorf("id %s created at %v inside earlier live range: %w", id, ts, ErrObjectAlreadyExists)
		}
	}
	return c.addInstance(newObjectInstance(c.process, id, category, name, ts, true)), nil
}

// AddSnapshot attaches a snapshot to the live range covering ts, synthesising
// an implicit instance when none exists
func (c *ObjectCollection) AddSnapshot(id, category, name string, ts float64, args map[string]interface{}, baseTypeName string) (*ObjectSnapshot, error) {
	instance := c.LatestInstance(id)
	if instance == nil || (instance.IsDeleted() && ts > instance.DeletionTs) {
		instance = c.addInstance(newObjectInstance(c.process, id, category, name, ts, false))
	}
	if instance.TypeName == "" {
		instance.TypeName = name
		instance.ColorID = ColorIDForString(name)
	} else if name != "" && instance.TypeName != name {
		return nil, fmt.Errorf("snapshot of %s names type %q but instance is %q: %w", id, name, instance.TypeName, ErrSnapshotOutOfRange)
	}
	return instance.AddSnapshot(ts, args, baseTypeName)
}

// IDWasDeleted closes the live range for id at ts, synthesising an implicit
// instance when the creation was never seen
func (c *ObjectCollection) IDWasDeleted(id, category, name string, ts float64) (*ObjectInstance, error) {
	instance := c.LatestInstance(id)
	if instance == nil {
		instance = c.addInstance(newObjectInstance(c.process, id, category, name, ts, false))
	}
	if err := instance.wasDeleted(ts, true); err != nil {
		return nil, err
	}
	return instance, nil
}

// AutoDeleteObjects closes every still-live instance at maxTs
func (c *ObjectCollection) AutoDeleteObjects(maxTs float64) {
	for _, instance := range c.instances {
		if !instance.IsDeleted() {
			instance.DeletionTs = maxTs
		}
	}
}

func (c *ObjectCollection) IsEmpty() bool {
	return len(c.instances) == 0
}

func (c *ObjectCollection) updateBounds(b *Bounds) {
	for _, instance := range c.instances {
		instance.updateBounds(b)
	}
}

func (c *ObjectCollection) shiftTimestampsForward(amount float64) {
	for _, instance := range c.instances {
		instance.shiftTimestampsForward(amount)
	}
}

package model

import "sort"

// Kernel holds threads observed outside any traced process. Kernel threads
// and process threads are disjoint: a tid lives in exactly one of the two.
type Kernel struct {
	model   *Model
	threads map[int64]*Thread
}

func NewKernel(m *Model) *Kernel {
	return &Kernel{
		model:   m,
		threads: map[int64]*Thread{},
	}
}

// GetOrCreateThread lazily creates the kernel thread for tid
func (k *Kernel) GetOrCreateThread(tid int64) *Thread {
	thread, ok := k.threads[tid]
	if !ok {
		thread = NewThread(nil, tid)
		k.threads[tid] = thread
	}
	return thread
}

// Threads returns the kernel threads ordered by tid
func (k *Kernel) Threads() []*Thread {
	tids := make([]int64, 0, len(k.threads))
	for tid := range k.threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	threads := make([]*Thread, 0, len(tids))
	for _, tid := range tids {
		threads = append(threads, k.threads[tid])
	}
	return threads
}

// FindAllThreadsNamed mirrors Process.FindAllThreadsNamed for kernel threads
func (k *Kernel) FindAllThreadsNamed(name string) []*Thread {
	var found []*Thread
	for _, thread := range k.Threads() {
		if thread.Name == name {
			found = append(found, thread)
		}
	}
	return found
}

func (k *Kernel) updateBounds(b *Bounds) {
	for _, thread := range k.threads {
		thread.UpdateBounds()
		b.AddBounds(thread.bounds)
	}
}

func (k *Kernel) shiftTimestampsForward(amount float64) {
	for _, thread := range k.threads {
		thread.ShiftTimestampsForward(amount)
	}
}

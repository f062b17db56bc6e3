package model

import "hash/fnv"

// numGeneralPurposeColorIDs matches the size of the viewer's general purpose
// palette; color assignment itself is the viewer's concern, the model only
// records stable ids.
const numGeneralPurposeColorIDs = 23

// ColorIDForString hashes a name to a stable color id, used wherever an event
// did not reserve a color explicitly
func ColorIDForString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % numGeneralPurposeColorIDs)
}

// ColorIDForReservedName maps an explicit cname reservation to a color id
func ColorIDForReservedName(name string) int {
	return numGeneralPurposeColorIDs + ColorIDForString(name)
}

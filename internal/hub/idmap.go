package hub

// clipIDMap is the per-match bijection between client-generated string clip
// ids and server-minted short integer ids. Update traffic dominates the wire;
// a 4-byte reference beats a ~32-char string on every delta. Short ids are
// never reused within a match, even after the clip is removed, so a late
// delta can never alias a different clip.
type clipIDMap struct {
	fullToShort map[string]uint32
	shortToFull map[uint32]shortRef
	next        uint32
}

type shortRef struct {
	FullID  string
	TrackID string
}

func newClipIDMap() *clipIDMap {
	return &clipIDMap{
		fullToShort: make(map[string]uint32),
		shortToFull: make(map[uint32]shortRef),
		next:        1,
	}
}

// Mint returns the short id for a full id, allocating on first sight.
// The second return is true when a new id was allocated.
func (m *clipIDMap) Mint(fullID, trackID string) (uint32, bool) {
	if short, ok := m.fullToShort[fullID]; ok {
		return short, false
	}
	short := m.next
	m.next++
	m.fullToShort[fullID] = short
	m.shortToFull[short] = shortRef{FullID: fullID, TrackID: trackID}
	return short, true
}

// Resolve maps a short id back to the full id and the track the mapping
// currently points at.
func (m *clipIDMap) Resolve(short uint32) (shortRef, bool) {
	ref, ok := m.shortToFull[short]
	return ref, ok
}

// Lookup returns the short id for a full id without allocating.
func (m *clipIDMap) Lookup(fullID string) (uint32, bool) {
	short, ok := m.fullToShort[fullID]
	return short, ok
}

// Retarget records that the clip behind short now lives on a new track.
func (m *clipIDMap) Retarget(short uint32, trackID string) {
	if ref, ok := m.shortToFull[short]; ok {
		ref.TrackID = trackID
		m.shortToFull[short] = ref
	}
}

// Remove drops both directions for a removed clip. `next` only ever grows,
// so the freed short id is never handed out again; a straggler delta for it
// resolves to "unknown" deterministically.
func (m *clipIDMap) Remove(fullID string) {
	short, ok := m.fullToShort[fullID]
	if !ok {
		return
	}
	delete(m.fullToShort, fullID)
	delete(m.shortToFull, short)
}

// mappingEntry pairs a short id with what it points at.
type mappingEntry struct {
	Short uint32
	Ref   shortRef
}

// Mappings snapshots every live mapping, for the eager backlog sent to a
// just-joined member.
func (m *clipIDMap) Mappings() []mappingEntry {
	out := make([]mappingEntry, 0, len(m.shortToFull))
	for short, ref := range m.shortToFull {
		out = append(out, mappingEntry{Short: short, Ref: ref})
	}
	return out
}

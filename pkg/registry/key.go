package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/vorteil/vdiskfs/pkg/vdiskerr"
)

// Key is a handle onto one registry key (an "nk" cell) within an open
// Hive, per spec.md §4.5's Registry-key operations.
type Key struct {
	hive *Hive
	node keyNode
}

// Name returns the key's own name; the hive root has no name of its own.
func (k *Key) Name() string {
	if k.node.root {
		return ""
	}
	return k.node.name
}

// SubKeyNames lists the names of this key's immediate children.
func (k *Key) SubKeyNames() ([]string, error) {
	entries, err := k.hive.resolveSubKeyEntries(k.node.subKeys)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		child, err := k.hive.readKeyNode(int64(e.Child))
		if err != nil {
			return nil, err
		}
		names = append(names, child.name)
	}
	return names, nil
}

// SubKey looks up an immediate child by name, case-insensitively.
func (k *Key) SubKey(name string) (*Key, bool, error) {
	node, found, err := k.hive.findSubKey(k.node, name)
	if err != nil || !found {
		return nil, found, err
	}
	return &Key{hive: k.hive, node: node}, true, nil
}

// ValueNames lists the names of this key's values.
func (k *Key) ValueNames() ([]string, error) {
	values, err := k.hive.loadValueList(k.node.valueList, k.node.numValues)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.name
	}
	return names, nil
}

// Value returns the data and type of the named value, case-insensitively.
func (k *Key) Value(name string) (data []byte, valueType uint32, ok bool, err error) {
	values, err := k.hive.loadValueList(k.node.valueList, k.node.numValues)
	if err != nil {
		return nil, 0, false, err
	}
	for _, v := range values {
		if strings.EqualFold(v.name, name) {
			data, err := k.hive.valueData(v)
			return data, v.dataType, true, err
		}
	}
	return nil, 0, false, nil
}

// CreateSubKey splits path once and creates the missing link as a new nk
// cell inheriting the current key's security, recursing on the remainder,
// per spec.md §4.5.
func (k *Key) CreateSubKey(path string) (*Key, error) {
	name, rest := splitFirst(path)
	if name == "" {
		return k, nil
	}
	child, found, err := k.hive.findSubKey(k.node, name)
	if err != nil {
		return nil, err
	}
	if !found {
		child, err = k.hive.createChildKeyNode(&k.node, name)
		if err != nil {
			return nil, err
		}
	}
	childKey := &Key{hive: k.hive, node: child}
	if rest == "" {
		return childKey, nil
	}
	return childKey.CreateSubKey(rest)
}

// DeleteSubKey deletes the key named by path, recursing through
// intermediate segments. It refuses to delete a key that still has
// children, per spec.md §4.5.
func (k *Key) DeleteSubKey(path string, throwIfMissing bool) error {
	name, rest := splitFirst(path)
	if name == "" {
		return fmt.Errorf("registry: empty subkey path: %w", vdiskerr.ErrNotFound)
	}

	child, found, err := k.hive.findSubKey(k.node, name)
	if err != nil {
		return err
	}
	if !found {
		if throwIfMissing {
			return fmt.Errorf("registry: subkey %q not found: %w", name, vdiskerr.ErrNotFound)
		}
		return nil
	}

	if rest != "" {
		childKey := &Key{hive: k.hive, node: child}
		return childKey.DeleteSubKey(rest, throwIfMissing)
	}

	if child.numSubKeys > 0 {
		return fmt.Errorf("registry: subkey %q still has children: %w", name, vdiskerr.ErrNotSupported)
	}
	return k.hive.deleteKeyNode(&k.node, child)
}

// SetValue looks up name case-insensitively; if absent, it is inserted
// into the value list in case-insensitive sorted order, per spec.md §4.5.
func (k *Key) SetValue(name string, data []byte, valueType uint32) error {
	values, listIdx, err := k.hive.loadValueListWithIndex(k.node.valueList, k.node.numValues)
	if err != nil {
		return err
	}

	vc := valueCell{name: name, dataType: valueType, dataLength: uint32(len(data))}
	if (valueType == RegDword || valueType == RegDwordBE) && len(data) <= 4 {
		vc.inline = true
		copy(vc.inlineData[:], data)
	} else {
		idx, err := k.hive.newCell(data)
		if err != nil {
			return err
		}
		vc.dataIndex = int32(idx)
	}

	for i, existing := range values {
		if strings.EqualFold(existing.name, name) {
			if !existing.inline && existing.dataLength > 0 {
				if err := k.hive.free(int64(existing.dataIndex)); err != nil {
					return err
				}
			}
			newIdx, err := k.hive.updateCell(existing.index, encodeValueCell(vc), true)
			if err != nil {
				return err
			}
			vc.index = newIdx
			values[i] = vc
			return k.hive.rewriteValueList(&k.node, listIdx, values)
		}
	}

	idx, err := k.hive.newCell(encodeValueCell(vc))
	if err != nil {
		return err
	}
	vc.index = idx

	insertAt := len(values)
	upper := strings.ToUpper(name)
	for i, existing := range values {
		if upper < strings.ToUpper(existing.name) {
			insertAt = i
			break
		}
	}
	values = append(values, valueCell{})
	copy(values[insertAt+1:], values[insertAt:])
	values[insertAt] = vc
	k.node.numValues++
	return k.hive.rewriteValueList(&k.node, listIdx, values)
}

// createChildKeyNode allocates a new nk cell, links it into parent's
// subkey list, and inherits parent's security descriptor.
func (h *Hive) createChildKeyNode(parent *keyNode, name string) (keyNode, error) {
	child := keyNode{
		parent:    int32(parent.index),
		subKeys:   -1,
		valueList: -1,
		security:  parent.security,
		className: -1,
		timestamp: fileTimeNow(),
		name:      name,
	}
	idx, err := h.newCell(encodeKeyNode(child))
	if err != nil {
		return keyNode{}, err
	}
	child.index = idx

	if err := h.insertSubKey(parent, int32(idx), name); err != nil {
		return keyNode{}, err
	}
	if err := h.writeKeyNode(parent); err != nil {
		return keyNode{}, err
	}
	return child, nil
}

// insertSubKey links childIdx into parent's subkey list at the position
// that keeps it case-insensitively sorted by name, materializing the list
// as an "lf" cell if one doesn't already exist.
func (h *Hive) insertSubKey(parent *keyNode, childIdx int32, childName string) error {
	entries, listIdx, err := h.loadFlatSubKeyList(parent.subKeys)
	if err != nil {
		return err
	}

	insertAt := len(entries)
	upper := strings.ToUpper(childName)
	for i, e := range entries {
		name, err := h.keyNodeName(e.Child)
		if err != nil {
			return err
		}
		if upper < strings.ToUpper(name) {
			insertAt = i
			break
		}
	}
	entries = append(entries, subKeyListEntry{})
	copy(entries[insertAt+1:], entries[insertAt:])
	entries[insertAt] = subKeyListEntry{Child: childIdx, Hash: lfHash(childName)}

	data := encodeSubKeyList(subKeyList{tag: sigLF, hashed: true, entries: entries})
	if listIdx < 0 {
		idx, err := h.newCell(data)
		if err != nil {
			return err
		}
		parent.subKeys = int32(idx)
	} else {
		newIdx, err := h.updateCell(listIdx, data, true)
		if err != nil {
			return err
		}
		parent.subKeys = int32(newIdx)
	}
	parent.numSubKeys++
	return nil
}

func (h *Hive) keyNodeName(idx int32) (string, error) {
	node, err := h.readKeyNode(int64(idx))
	if err != nil {
		return "", err
	}
	return node.name, nil
}

// deleteKeyNode frees class-name, security (through the ring), value
// list, and the node itself, then unlinks it from parent's subkey list
// and decrements parent's numSubKeys, per spec.md §4.5.
func (h *Hive) deleteKeyNode(parent *keyNode, child keyNode) error {
	if child.className >= 0 {
		if err := h.free(int64(child.className)); err != nil {
			return err
		}
	}
	if child.security >= 0 {
		if err := h.releaseSecurity(child.security); err != nil {
			return err
		}
	}
	if err := h.deleteValueList(child.valueList, child.numValues); err != nil {
		return err
	}

	entries, listIdx, err := h.loadFlatSubKeyList(parent.subKeys)
	if err != nil {
		return err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if int64(e.Child) != child.index {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		if listIdx >= 0 {
			if err := h.free(listIdx); err != nil {
				return err
			}
		}
		parent.subKeys = -1
	} else {
		newIdx, err := h.updateCell(listIdx, encodeSubKeyList(subKeyList{tag: sigLF, hashed: true, entries: filtered}), true)
		if err != nil {
			return err
		}
		parent.subKeys = int32(newIdx)
	}
	parent.numSubKeys--
	if err := h.writeKeyNode(parent); err != nil {
		return err
	}

	return h.free(child.index)
}

// releaseSecurity decrements the sk cell's usage count, unlinking and
// freeing it from the ring at zero, per spec.md §4.5's SecurityCell.
func (h *Hive) releaseSecurity(idx int32) error {
	buf, err := h.readCell(int64(idx))
	if err != nil {
		return err
	}
	sk, err := decodeSecurityCell(int64(idx), buf)
	if err != nil {
		return err
	}
	if sk.refCount > 0 {
		sk.refCount--
	}
	if sk.refCount > 0 {
		_, err := h.updateCell(int64(idx), encodeSecurityCell(sk), false)
		return err
	}

	if sk.flink != int32(idx) {
		if err := h.patchSecurityLink(sk.blink, sk.flink, true); err != nil {
			return err
		}
		if err := h.patchSecurityLink(sk.flink, sk.blink, false); err != nil {
			return err
		}
	}
	return h.free(int64(idx))
}

func (h *Hive) patchSecurityLink(idx int32, value int32, patchFlink bool) error {
	buf, err := h.readCell(int64(idx))
	if err != nil {
		return err
	}
	sk, err := decodeSecurityCell(int64(idx), buf)
	if err != nil {
		return err
	}
	if patchFlink {
		sk.flink = value
	} else {
		sk.blink = value
	}
	_, err = h.updateCell(int64(idx), encodeSecurityCell(sk), false)
	return err
}

func (h *Hive) deleteValueList(listIdx int32, count uint32) error {
	if listIdx < 0 || count == 0 {
		return nil
	}
	buf, err := h.readCell(int64(listIdx))
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		off := int(i) * 4
		if off+4 > len(buf) {
			break
		}
		if err := h.deleteValue(readI32(buf, off)); err != nil {
			return err
		}
	}
	return h.free(int64(listIdx))
}

func (h *Hive) deleteValue(idx int32) error {
	buf, err := h.readCell(int64(idx))
	if err != nil {
		return err
	}
	v, err := decodeValueCell(int64(idx), buf)
	if err != nil {
		return err
	}
	if !v.inline && v.dataLength > 0 {
		if err := h.free(int64(v.dataIndex)); err != nil {
			return err
		}
	}
	return h.free(int64(idx))
}

func (h *Hive) loadValueList(listIdx int32, count uint32) ([]valueCell, error) {
	values, _, err := h.loadValueListWithIndex(listIdx, count)
	return values, err
}

func (h *Hive) loadValueListWithIndex(listIdx int32, count uint32) ([]valueCell, int64, error) {
	if listIdx < 0 || count == 0 {
		return nil, -1, nil
	}
	buf, err := h.readCell(int64(listIdx))
	if err != nil {
		return nil, 0, err
	}
	out := make([]valueCell, 0, count)
	for i := uint32(0); i < count; i++ {
		off := int(i) * 4
		if off+4 > len(buf) {
			break
		}
		vIdx := readI32(buf, off)
		vbuf, err := h.readCell(int64(vIdx))
		if err != nil {
			return nil, 0, err
		}
		v, err := decodeValueCell(int64(vIdx), vbuf)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, int64(listIdx), nil
}

func (h *Hive) rewriteValueList(parent *keyNode, oldListIdx int64, values []valueCell) error {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		putI32(buf, i*4, int32(v.index))
	}
	if oldListIdx < 0 {
		idx, err := h.newCell(buf)
		if err != nil {
			return err
		}
		parent.valueList = int32(idx)
	} else {
		newIdx, err := h.updateCell(oldListIdx, buf, true)
		if err != nil {
			return err
		}
		parent.valueList = int32(newIdx)
	}
	return h.writeKeyNode(parent)
}

func (h *Hive) valueData(v valueCell) ([]byte, error) {
	if v.inline {
		return append([]byte{}, v.inlineData[:v.dataLength]...), nil
	}
	if v.dataLength == 0 {
		return nil, nil
	}
	buf, err := h.readCell(int64(v.dataIndex))
	if err != nil {
		return nil, err
	}
	if int64(v.dataLength) > int64(len(buf)) {
		return nil, fmt.Errorf("registry: value data shorter than declared length: %w", vdiskerr.ErrCorrupt)
	}
	return append([]byte{}, buf[:v.dataLength]...), nil
}

// splitFirst splits a backslash-separated registry path into its first
// segment and the remainder.
func splitFirst(path string) (string, string) {
	path = strings.TrimPrefix(path, `\`)
	if path == "" {
		return "", ""
	}
	if i := strings.IndexByte(path, '\\'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// fileTimeNow returns the current time as a Windows FILETIME: 100ns ticks
// since 1601-01-01 UTC, per spec.md §6.
func fileTimeNow() uint64 {
	const epochDiff = 116444736000000000 // 100ns intervals between 1601 and 1970
	return uint64(time.Now().UTC().UnixNano()/100) + epochDiff
}

package pktc

import (
	"encoding/hex"
	"fmt"
)

// Item is one node of the display tree of a message.
type Item struct {
	Info *FieldInfo
	Span
	Value    any // uint8, uint32, []byte, string or nil
	Children []*Item
}

// Label renders the item as "Name: value".
func (it *Item) Label() string {
	info := it.Info
	switch v := it.Value.(type) {
	case uint8:
		return info.Name + ": " + formatInt(info, uint64(v), 2)
	case uint32:
		return info.Name + ": " + formatInt(info, uint64(v), 8)
	case []byte:
		if info.Base == BaseHex {
			return fmt.Sprintf("%s: %s", info.Name, hex.EncodeToString(v))
		}
		return fmt.Sprintf("%s: %d bytes", info.Name, len(v))
	case string:
		return info.Name + ": " + v
	default:
		return info.Name
	}
}

func formatInt(info *FieldInfo, v uint64, width int) string {
	num := fmt.Sprintf("%d", v)
	if info.Base == BaseHex {
		num = fmt.Sprintf("0x%0*x", width, v)
	}
	if info.Values == nil {
		return num
	}
	if name, ok := info.ValueName(v); ok {
		return fmt.Sprintf("%s (%s)", name, num)
	}
	return fmt.Sprintf("Unknown (%s)", num)
}

// Find returns the first item with the given abbreviation, depth first.
func (it *Item) Find(abbrev string) *Item {
	if it.Info.Abbrev == abbrev {
		return it
	}
	for _, child := range it.Children {
		if found := child.Find(abbrev); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every item with the given abbreviation in wire order.
func (it *Item) FindAll(abbrev string) []*Item {
	var out []*Item
	it.Walk(func(item *Item, _ int) {
		if item.Info.Abbrev == abbrev {
			out = append(out, item)
		}
	})
	return out
}

// Walk calls fn for it and every descendant, parents first.
func (it *Item) Walk(fn func(item *Item, depth int)) {
	it.walk(fn, 0)
}

func (it *Item) walk(fn func(*Item, int), depth int) {
	fn(it, depth)
	for _, child := range it.Children {
		child.walk(fn, depth+1)
	}
}

func leaf[T any](abbrev string, f Field[T], value any) *Item {
	return &Item{Info: fieldTable[abbrev], Span: f.Span, Value: value}
}

func subtree(abbrev string, span Span, children ...*Item) *Item {
	return &Item{Info: fieldTable[abbrev], Span: span, Children: children}
}

// Tree builds the display tree of m in wire order.
func (m *Message) Tree() *Item {
	root := subtree(FieldProtocol, m.Span,
		leaf(FieldKMMID, m.Type, uint8(m.Type.Value)),
		leaf(FieldDOI, m.DOI, uint8(m.DOI.Value)),
		leaf(FieldVersionMajor, m.VersionMajor, m.VersionMajor.Value),
		leaf(FieldVersionMinor, m.VersionMinor, m.VersionMinor.Value),
	)

	switch b := m.Body.(type) {
	case *APRequest:
		root.Children = append(root.Children,
			leaf(FieldAuthBlob, b.AuthBlob, b.AuthBlob.Value),
			leaf(FieldServerNonce, b.ServerNonce, b.ServerNonce.Value),
			b.AppData.tree(),
			b.Ciphersuites.tree(),
			leaf(FieldReestablish, b.Reestablish, b.Reestablish.Value),
			leaf(FieldMAC, b.MAC, b.MAC.Value),
		)
	case *APReply:
		root.Children = append(root.Children,
			leaf(FieldAuthBlob, b.AuthBlob, b.AuthBlob.Value),
			b.AppData.tree(),
			b.Ciphersuites.tree(),
			leaf(FieldLifetime, b.Lifetime, b.Lifetime.Value),
			leaf(FieldGracePeriod, b.GracePeriod, b.GracePeriod.Value),
			leaf(FieldReestablish, b.Reestablish, b.Reestablish.Value),
			leaf(FieldAckRequired, b.AckRequired, b.AckRequired.Value),
			leaf(FieldMAC, b.MAC, b.MAC.Value),
		)
	}
	return root
}

func (ad *AppData) tree() *Item {
	return subtree(FieldAppData, ad.Span,
		leaf(FieldEngineIDLen, ad.EngineIDLen, ad.EngineIDLen.Value),
		leaf(FieldEngineID, ad.EngineID, ad.EngineID.Value),
		leaf(FieldEngineBoots, ad.Boots, ad.Boots.Value),
		leaf(FieldEngineTime, ad.Time, ad.Time.Value),
		leaf(FieldUserNameLen, ad.UserNameLen, ad.UserNameLen.Value),
		leaf(FieldUserName, ad.UserName, ad.UserName.Value),
	)
}

func (l *CiphersuiteList) tree() *Item {
	item := subtree(FieldCiphersuites, l.Span,
		leaf(FieldCiphersuiteCount, l.Count, l.Count.Value),
	)
	for _, s := range l.Suites {
		item.Children = append(item.Children, subtree(FieldCiphersuite, s.Span,
			leaf(FieldCiphersuiteAuth, s.Auth, uint8(s.Auth.Value)),
			leaf(FieldCiphersuiteTransform, s.Transform, uint8(s.Transform.Value)),
		))
	}
	return item
}

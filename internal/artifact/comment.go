package artifact

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"revsync/internal/util"
)

// Comment is a user comment at an instruction address, tagged with the
// view it belongs to (disassembly or decompilation).
type Comment struct {
	FuncAddr   uint64 `toml:"func_addr"`
	Addr       uint64 `toml:"addr"`
	Text       string `toml:"comment"`
	Decompiled bool   `toml:"decompiled"`
	LastChange int64  `toml:"last_change"`
}

// NewComment returns a Comment with the never-changed sentinel.
func NewComment(funcAddr, addr uint64, text string, decompiled bool) Comment {
	return Comment{
		FuncAddr:   funcAddr,
		Addr:       addr,
		Text:       text,
		Decompiled: decompiled,
		LastChange: LastChangeNever,
	}
}

// Equal reports content equality, ignoring LastChange.
func (c Comment) Equal(other Comment) bool {
	return c.FuncAddr == other.FuncAddr &&
		c.Addr == other.Addr &&
		c.Text == other.Text &&
		c.Decompiled == other.Decompiled
}

// SortedCommentAddrs returns comment addresses in ascending order for
// deterministic iteration.
func SortedCommentAddrs(cmts map[uint64]Comment) []uint64 {
	addrs := make([]uint64, 0, len(cmts))
	for addr := range cmts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// DumpComments batches one function's comments keyed by hex address,
// in sorted key order.
func DumpComments(cmts map[uint64]Comment) ([]byte, error) {
	keyed := make(map[string]Comment, len(cmts))
	for addr, c := range cmts {
		keyed[util.AddrKey(addr)] = c
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(keyed); err != nil {
		return nil, fmt.Errorf("encoding comments: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadComments parses a batched comment document into an addr-keyed
// map, skipping unparsable keys.
func LoadComments(data []byte) (map[uint64]Comment, error) {
	var keyed map[string]Comment
	if err := toml.Unmarshal(data, &keyed); err != nil {
		return nil, fmt.Errorf("decoding comments: %w", err)
	}
	cmts := make(map[uint64]Comment, len(keyed))
	for key, c := range keyed {
		if _, err := util.ParseAddrKey(key); err != nil {
			continue
		}
		cmts[c.Addr] = c
	}
	return cmts, nil
}

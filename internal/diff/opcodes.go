package diff

// Tag classifies one span of an edit script.
type Tag int

const (
	// OpEqual spans match on both sides.
	OpEqual Tag = iota

	// OpReplace replaces a[i1:i2] with b[j1:j2].
	OpReplace

	// OpDelete removes a[i1:i2].
	OpDelete

	// OpInsert inserts b[j1:j2] before a[i1].
	OpInsert
)

func (t Tag) String() string {
	switch t {
	case OpEqual:
		return "equal"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Opcode is one contiguous span of an edit script over sequences a and b.
// Index pairs are half-open: the op covers a[I1:I2] and b[J1:J2].
type Opcode struct {
	Tag Tag
	I1  int
	I2  int
	J1  int
	J2  int
}

// Opcodes computes the edit script turning a into b, based on the longest
// common subsequence. Adjacent spans of the same tag are merged, and a
// delete immediately followed by an insert (or vice versa) collapses into a
// replace. Document sequences are short, so the quadratic table is fine.
func Opcodes(a, b []string) []Opcode {
	n, m := len(a), len(b)

	// lcs[i][j] is the LCS length of a[i:] and b[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}

	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var ops []Opcode

	emit := func(tag Tag, i1, i2, j1, j2 int) {
		if i1 == i2 && j1 == j2 {
			return
		}

		if len(ops) > 0 {
			last := &ops[len(ops)-1]

			// Merge with the previous span when contiguous.
			if last.I2 == i1 && last.J2 == j1 {
				switch {
				case last.Tag == tag:
					last.I2, last.J2 = i2, j2
					return

				case tag != OpEqual && last.Tag != OpEqual:
					last.Tag = OpReplace
					last.I2, last.J2 = i2, j2
					return
				}
			}
		}

		ops = append(ops, Opcode{Tag: tag, I1: i1, I2: i2, J1: j1, J2: j2})
	}

	i, j := 0, 0

	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			emit(OpEqual, i, i+1, j, j+1)
			i++
			j++

		case lcs[i+1][j] >= lcs[i][j+1]:
			emit(OpDelete, i, i+1, j, j)
			i++

		default:
			emit(OpInsert, i, i, j, j+1)
			j++
		}
	}

	emit(OpDelete, i, n, j, j)
	emit(OpInsert, n, n, j, m)

	return ops
}

// ChangedSpan returns the number of blocks a script touches: for each
// non-equal op, the larger of its two spans.
func ChangedSpan(ops []Opcode) int {
	total := 0

	for _, op := range ops {
		if op.Tag == OpEqual {
			continue
		}

		total += max(op.I2-op.I1, op.J2-op.J1)
	}

	return total
}

package diff

// Block is a run of two compared sequences. Equal blocks hold the same
// elements on both sides; other blocks replace Old with New, and either side
// may be empty.
type Block[T comparable] struct {
	OldStart int
	NewStart int
	Old      []T
	New      []T
	Equal    bool
}

// Blocks aligns a and b on their longest common subsequence and returns the
// alternating equal and changed runs in order.
func Blocks[T comparable](a, b []T) []Block[T] {
	lcs := buildLCSMatrix(a, b)

	var (
		blocks []Block[T]
		cur    *Block[T]
	)
	flush := func() {
		if cur != nil {
			blocks = append(blocks, *cur)
			cur = nil
		}
	}
	step := func(equal bool, i, j int) *Block[T] {
		if cur == nil || cur.Equal != equal {
			flush()
			cur = &Block[T]{OldStart: i, NewStart: j, Equal: equal}
		}
		return cur
	}

	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case i < len(a) && j < len(b) && a[i] == b[j]:
			blk := step(true, i, j)
			blk.Old = append(blk.Old, a[i])
			blk.New = append(blk.New, b[j])
			i++
			j++
		case i < len(a) && (j == len(b) || lcs[i+1][j] >= lcs[i][j+1]):
			blk := step(false, i, j)
			blk.Old = append(blk.Old, a[i])
			i++
		default:
			blk := step(false, i, j)
			blk.New = append(blk.New, b[j])
			j++
		}
	}
	flush()
	return blocks
}

// buildLCSMatrix holds at [i][j] the LCS length of a[i:] and b[j:].
func buildLCSMatrix[T comparable](a, b []T) [][]int {
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

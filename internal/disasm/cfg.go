package disasm

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedJumpTarget marks jumps whose target offset is not an
// instruction of the function. The edge is omitted, the build continues.
var ErrMalformedJumpTarget = errors.New("jump target outside function")

// EdgeKind labels a control-flow successor edge.
type EdgeKind int

const (
	Sequential EdgeKind = iota
	Unconditional
	ConditionalTaken
	ConditionalFallthrough
)

func (k EdgeKind) String() string {
	switch k {
	case Sequential:
		return "sequential"
	case Unconditional:
		return "unconditional"
	case ConditionalTaken:
		return "taken"
	case ConditionalFallthrough:
		return "fallthrough"
	}
	return "unknown"
}

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Offset  int    // bytecode offset of the leader
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with return or raise
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Kind    EdgeKind
	Cond    string // "" = unconditional, else the condition value ("T"/"F") that selects this edge
}

// FuncCFG is a per-function control flow graph.
type FuncCFG struct {
	Name     string
	Blocks   []BasicBlock
	Insts    []Inst
	Dangling []int // offsets of jumps whose target is unknown
}

// Malformed returns an error wrapping ErrMalformedJumpTarget when any jump
// edge had to be omitted, nil otherwise.
func (c *FuncCFG) Malformed() error {
	if len(c.Dangling) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w (jumps at %v)", c.Name, ErrMalformedJumpTarget, c.Dangling)
}

// BlockAt returns the block whose leader is at the given offset.
func (c *FuncCFG) BlockAt(offset int) (*BasicBlock, bool) {
	for i := range c.Blocks {
		if c.Blocks[i].Offset == offset {
			return &c.Blocks[i], true
		}
	}
	return nil, false
}

// Leaders returns the leader offsets in order.
func (c *FuncCFG) Leaders() []int {
	out := make([]int, len(c.Blocks))
	for i, b := range c.Blocks {
		out[i] = b.Offset
	}
	return out
}

// BuildCFG constructs a control flow graph from a function's instruction stream.
// The algorithm:
//  1. Find block leaders: index 0, jump targets, instructions after jumps and terminators.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction.
func BuildCFG(name string, insts []Inst) FuncCFG {
	if len(insts) == 0 {
		return FuncCFG{Name: name, Insts: insts}
	}

	// Map offset → instruction index for jump target resolution.
	offToIdx := make(map[int]int, len(insts))
	for i, inst := range insts {
		offToIdx[inst.Offset] = i
	}

	// Pass 1: Identify block leaders.
	leaders := make(map[int]bool)
	leaders[0] = true // entry point is always a leader

	for i, inst := range insts {
		bi := DecodeBranch(inst)
		if bi == nil {
			continue
		}
		// Instruction after a jump or terminator is a leader (if it exists).
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		if bi.HasTarget {
			if idx, ok := offToIdx[bi.Target]; ok {
				leaders[idx] = true
			}
		}
	}

	// Sort leaders for partitioning.
	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts) // last block extends to end
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{
			ID:      i,
			Start:   start,
			End:     end,
			Offset:  insts[start].Offset,
			IsEntry: start == 0,
		}
		leaderToBlock[start] = i
	}

	// Pass 3: Compute successors.
	var dangling []int
	for i := range blocks {
		blk := &blocks[i]
		lastInst := insts[blk.End-1]
		bi := DecodeBranch(lastInst)

		if bi == nil {
			// Not a jump: fall through to next block.
			if nextBlk, ok := leaderToBlock[blk.End]; ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: nextBlk, Kind: Sequential})
			}
			continue
		}

		if bi.IsTerm {
			blk.IsTerm = true
			continue
		}

		// Resolve jump target to a block.
		targetBlockID := -1
		if bi.HasTarget {
			if idx, ok := offToIdx[bi.Target]; ok {
				targetBlockID = leaderToBlock[idx]
			}
		}
		if targetBlockID < 0 {
			dangling = append(dangling, lastInst.Offset)
		}

		if bi.Cond {
			taken, fall := branchConds(lastInst.Opname)
			if targetBlockID >= 0 {
				blk.Succs = append(blk.Succs, Succ{BlockID: targetBlockID, Kind: ConditionalTaken, Cond: taken})
			}
			if nextBlk, ok := leaderToBlock[blk.End]; ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: nextBlk, Kind: ConditionalFallthrough, Cond: fall})
			}
		} else if targetBlockID >= 0 {
			blk.Succs = append(blk.Succs, Succ{BlockID: targetBlockID, Kind: Unconditional})
		}
	}

	return FuncCFG{
		Name:     name,
		Blocks:   blocks,
		Insts:    insts,
		Dangling: dangling,
	}
}

// branchConds returns the condition labels of the taken and fallthrough
// edges of a conditional jump. Jumps without a boolean polarity (FOR_ITER,
// SEND) label the taken edge "T".
func branchConds(opname string) (taken, fall string) {
	if takenWhen, ok := Polarity(opname); ok && !takenWhen {
		return "F", "T"
	}
	return "T", "F"
}

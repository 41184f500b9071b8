package gic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Snapshot payload framing. Field order and widths below are the durable
// migration contract; new fields append, existing ones never move.
const (
	stateMagic   uint32 = 0x43494756 // "VGIC"
	stateVersion uint32 = 1
)

// GICv3State is the register state of the plain GICv3 controller. GICDCtlr
// is kept out of Dist because its position in the restore sequence is a
// correctness contract.
type GICv3State struct {
	Dist     []uint32
	Rdist    []uint32
	ICC      []uint32
	GICDCtlr uint32
}

// GICv3ITSState adds the ITS register block to the GICv3 state.
type GICv3ITSState struct {
	GICv3State

	ITSCtlr    uint32
	ITSIidr    uint32
	ITSCbaser  uint64
	ITSCwriter uint64
	ITSCreadr  uint64
	ITSBaser   [numITSBasers]uint64
}

func writeWords(w io.Writer, words []uint32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(words))); err != nil {
		return fmt.Errorf("write word count: %w", err)
	}
	for _, word := range words {
		if err := binary.Write(w, binary.LittleEndian, word); err != nil {
			return fmt.Errorf("write word: %w", err)
		}
	}
	return nil
}

func readWords(r *bytes.Reader) ([]uint32, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read word count: %w", err)
	}
	// The count comes from untrusted snapshot bytes; it cannot claim more
	// words than the remaining input holds.
	if int64(count)*4 > int64(r.Len()) {
		return nil, fmt.Errorf("word count %d exceeds %d remaining bytes", count, r.Len())
	}
	words := make([]uint32, count)
	for i := range words {
		if err := binary.Read(r, binary.LittleEndian, &words[i]); err != nil {
			return nil, fmt.Errorf("read word %d: %w", i, err)
		}
	}
	return words, nil
}

func writeStateHeader(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, stateMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, stateVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}

func readStateHeader(r io.Reader) error {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if magic != stateMagic {
		return fmt.Errorf("invalid magic: expected %#x, got %#x", stateMagic, magic)
	}
	if version != stateVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}
	return nil
}

func writeGICv3State(w io.Writer, state *GICv3State) error {
	if err := binary.Write(w, binary.LittleEndian, state.GICDCtlr); err != nil {
		return fmt.Errorf("write GICD_CTLR: %w", err)
	}
	if err := writeWords(w, state.Dist); err != nil {
		return fmt.Errorf("write distributor words: %w", err)
	}
	if err := writeWords(w, state.Rdist); err != nil {
		return fmt.Errorf("write redistributor words: %w", err)
	}
	if err := writeWords(w, state.ICC); err != nil {
		return fmt.Errorf("write CPU interface words: %w", err)
	}
	return nil
}

func readGICv3State(r *bytes.Reader) (*GICv3State, error) {
	var state GICv3State

	if err := binary.Read(r, binary.LittleEndian, &state.GICDCtlr); err != nil {
		return nil, fmt.Errorf("read GICD_CTLR: %w", err)
	}

	var err error
	if state.Dist, err = readWords(r); err != nil {
		return nil, fmt.Errorf("read distributor words: %w", err)
	}
	if state.Rdist, err = readWords(r); err != nil {
		return nil, fmt.Errorf("read redistributor words: %w", err)
	}
	if state.ICC, err = readWords(r); err != nil {
		return nil, fmt.Errorf("read CPU interface words: %w", err)
	}

	return &state, nil
}

func encodeGICv3State(state *GICv3State) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeStateHeader(&buf); err != nil {
		return nil, err
	}
	if err := writeGICv3State(&buf, state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGICv3State(data []byte) (*GICv3State, error) {
	r := bytes.NewReader(data)
	if err := readStateHeader(r); err != nil {
		return nil, err
	}
	return readGICv3State(r)
}

func encodeGICv3ITSState(state *GICv3ITSState) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeStateHeader(&buf); err != nil {
		return nil, err
	}
	if err := writeGICv3State(&buf, &state.GICv3State); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.LittleEndian, state.ITSCtlr); err != nil {
		return nil, fmt.Errorf("write GITS_CTLR: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, state.ITSIidr); err != nil {
		return nil, fmt.Errorf("write GITS_IIDR: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, state.ITSCbaser); err != nil {
		return nil, fmt.Errorf("write GITS_CBASER: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, state.ITSCwriter); err != nil {
		return nil, fmt.Errorf("write GITS_CWRITER: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, state.ITSCreadr); err != nil {
		return nil, fmt.Errorf("write GITS_CREADR: %w", err)
	}
	for i, baser := range state.ITSBaser {
		if err := binary.Write(&buf, binary.LittleEndian, baser); err != nil {
			return nil, fmt.Errorf("write GITS_BASER%d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

func decodeGICv3ITSState(data []byte) (*GICv3ITSState, error) {
	r := bytes.NewReader(data)
	if err := readStateHeader(r); err != nil {
		return nil, err
	}

	gicState, err := readGICv3State(r)
	if err != nil {
		return nil, err
	}
	state := &GICv3ITSState{GICv3State: *gicState}

	if err := binary.Read(r, binary.LittleEndian, &state.ITSCtlr); err != nil {
		return nil, fmt.Errorf("read GITS_CTLR: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &state.ITSIidr); err != nil {
		return nil, fmt.Errorf("read GITS_IIDR: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &state.ITSCbaser); err != nil {
		return nil, fmt.Errorf("read GITS_CBASER: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &state.ITSCwriter); err != nil {
		return nil, fmt.Errorf("read GITS_CWRITER: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &state.ITSCreadr); err != nil {
		return nil, fmt.Errorf("read GITS_CREADR: %w", err)
	}
	for i := range state.ITSBaser {
		if err := binary.Read(r, binary.LittleEndian, &state.ITSBaser[i]); err != nil {
			return nil, fmt.Errorf("read GITS_BASER%d: %w", i, err)
		}
	}

	return state, nil
}

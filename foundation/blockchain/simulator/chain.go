package simulator

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/fullnode/foundation/blockchain/database"
	"github.com/ardanlabs/fullnode/foundation/blockchain/difficulty"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/pot"
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ardanlabs/fullnode/foundation/blockchain/types"
	"github.com/ethereum/go-ethereum/common"
)

// ErrBehindPeak is returned when the requested signage point would infuse the
// block before the current peak.
var ErrBehindPeak = errors.New("infusion point is not after the peak")

// PlotSize is the k of the simulated plots. Together with small difficulties
// it keeps the required iterations of every proof at 1.
const PlotSize = 32

// Options controls the next block the chain builds.
type Options struct {
	SignagePointIndex uint8
	Slots             int
	Transaction       bool
	Fees              uint64
	Cost              uint64
	Generator         []byte
	GeneratorRefs     []uint32
	AggSigs           []types.AggSig
	Farmer            byte
}

// Chain grows a chain of valid blocks on top of its own record database.
type Chain struct {
	c       genesis.Constants
	db      *database.Database
	blocks  []*types.FullBlock
	pending []types.EndOfSubSlotBundle
	ts      uint64
}

// New constructs an empty chain for the constants.
func New(c genesis.Constants) *Chain {
	return &Chain{
		c:  c,
		db: database.New(nil),
		ts: 1_700_000_000,
	}
}

// Database returns the records of every block the chain has added.
func (ch *Chain) Database() *database.Database {
	return ch.db
}

// Blocks returns the blocks added so far in height order.
func (ch *Chain) Blocks() []*types.FullBlock {
	return ch.blocks
}

// Peak returns the record of the last block added, nil for an empty chain.
func (ch *Chain) Peak() *types.BlockRecord {
	return ch.db.Peak()
}

// Pending returns the sub-slots finished since the peak.
func (ch *Chain) Pending() []types.EndOfSubSlotBundle {
	return ch.pending
}

// Snapshot returns a new database holding the records up to and including the
// height, with the record at the height as peak.
func (ch *Chain) Snapshot(height uint32) (*database.Database, error) {
	db := database.New(nil)
	if int(height) >= len(ch.blocks) {
		return nil, fmt.Errorf("snapshot: height %d beyond %d blocks", height, len(ch.blocks))
	}

	for _, fb := range ch.blocks[:height+1] {
		br, err := ch.db.BlockRecord(fb.HeaderHash())
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		db.AddBlockRecord(br)
	}

	if err := db.SetPeak(ch.blocks[height].HeaderHash()); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	return db, nil
}

// Extend adds n blocks, each in a sub-slot of its own. Every other block is a
// transaction block.
func (ch *Chain) Extend(n int) error {
	for i := 0; i < n; i++ {
		height := len(ch.blocks)

		opt := Options{
			SignagePointIndex: uint8(1 + 4*(height%4)),
			Transaction:       height%2 == 0,
			Fees:              uint64(height),
		}
		if height > 0 {
			opt.Slots = 1
		}

		if _, err := ch.AddBlock(opt); err != nil {
			return err
		}
	}

	return nil
}

// =============================================================================

// nextValues returns the sub-slot iterations and difficulty in effect for a
// block built now.
func (ch *Chain) nextValues() (uint64, uint64, error) {
	return difficulty.NextSubSlotItersAndDifficulty(ch.c, ch.db, len(ch.pending) > 0, ch.db.Peak())
}

// FinishSlot finishes the current sub-slot. The bundle is kept and included
// by the next block added.
func (ch *Chain) FinishSlot() (types.EndOfSubSlotBundle, error) {
	peak := ch.db.Peak()

	ssi := ch.c.SubSlotItersStarting
	if peak != nil {
		var err error
		if ssi, _, err = difficulty.NextSubSlotItersAndDifficulty(ch.c, ch.db, true, peak); err != nil {
			return types.EndOfSubSlotBundle{}, fmt.Errorf("finish slot: %w", err)
		}
	}

	var exp header.SlotExpectation
	var ses *types.SubEpochSummary
	switch {
	case len(ch.pending) > 0:
		exp = header.ExpectAfterSlot(ch.c, &ch.pending[len(ch.pending)-1], ssi)

	case peak == nil:
		exp = header.ExpectAfterSlot(ch.c, nil, ssi)

	default:
		ccChallenge, _, err := header.SlotChallenges(ch.c, ch.db, peak)
		if err != nil {
			return types.EndOfSubSlotBundle{}, fmt.Errorf("finish slot: %w", err)
		}

		slotEnd := peak.IPSubSlotTotalIters(ch.c) + peak.SubSlotIters
		if exp, err = header.ExpectAfterPeak(ch.c, ch.db, peak, ccChallenge, peak.SubSlotIters, slotEnd); err != nil {
			return types.EndOfSubSlotBundle{}, fmt.Errorf("finish slot: %w", err)
		}

		if ses, err = header.SummaryAfterPeak(ch.c, ch.db, peak); err != nil {
			return types.EndOfSubSlotBundle{}, fmt.Errorf("finish slot: %w", err)
		}
	}

	eos := EndOfSlot(ch.c, exp, ses)
	ch.pending = append(ch.pending, eos)

	return eos, nil
}

// EndOfSlot builds the bundle that meets the expectation.
func EndOfSlot(c genesis.Constants, exp header.SlotExpectation, ses *types.SubEpochSummary) types.EndOfSubSlotBundle {
	cc := types.ChallengeChainSubSlot{
		ChallengeChainEndOfSlotVDF: types.VDFInfo{
			Challenge:          exp.CCChallenge,
			NumberOfIterations: exp.SubSlotIters,
			Output:             Element(exp.CCChallenge.Bytes(), []byte("cc_eos")),
		},
	}

	if ses != nil {
		h := ses.Hash()
		cc.SubepochSummaryHash = &h
		cc.NewSubSlotIters = ses.NewSubSlotIters
		cc.NewDifficulty = ses.NewDifficulty
	}

	var icc *types.InfusedChallengeChainSubSlot
	var iccHash *common.Hash
	var iccProof *types.VDFProof
	if exp.ICCChallenge != nil {
		icc = &types.InfusedChallengeChainSubSlot{
			InfusedChallengeChainEndOfSlotVDF: types.VDFInfo{
				Challenge:          *exp.ICCChallenge,
				NumberOfIterations: exp.ICCIters,
				Output:             Element(exp.ICCChallenge.Bytes(), []byte("icc_eos")),
			},
		}

		h := icc.Hash()
		iccHash = &h
		if exp.Deficit == c.MinBlocksPerChallengeBlock {
			cc.InfusedChallengeChainSubSlotHash = &h
		}

		p := Proof()
		iccProof = &p
	}

	rc := types.RewardChainSubSlot{
		EndOfSlotVDF: types.VDFInfo{
			Challenge:          exp.RCChallenge,
			NumberOfIterations: exp.Iters,
			Output:             Element(exp.RCChallenge.Bytes(), []byte("rc_eos")),
		},
		ChallengeChainSubSlotHash:        cc.Hash(),
		InfusedChallengeChainSubSlotHash: iccHash,
		Deficit:                          exp.Deficit,
	}

	return types.EndOfSubSlotBundle{
		ChallengeChain:        cc,
		InfusedChallengeChain: icc,
		RewardChain:           rc,
		Proofs: types.SubSlotProofs{
			ChallengeChainSlotProof:        Proof(),
			InfusedChallengeChainSlotProof: iccProof,
			RewardChainSlotProof:           Proof(),
		},
	}
}

// SignagePoint builds the signage point at index of the latest sub-slot: the
// last pending one, or the sub-slot of the peak.
func (ch *Chain) SignagePoint(index uint8) (types.SignagePoint, error) {
	peak := ch.db.Peak()

	ssi := ch.c.SubSlotItersStarting
	if peak != nil && peak.Height >= 2 {
		ssi = peak.SubSlotIters
	}

	var slotCC, slotRC common.Hash
	var slotStart uint64
	var future bool

	switch {
	case len(ch.pending) > 0:
		last := ch.pending[len(ch.pending)-1]
		slotCC, slotRC = last.ChallengeChain.Hash(), last.RewardChain.Hash()

		if peak != nil {
			slotStart = peak.IPSubSlotTotalIters(ch.c)
			future = true

			next, _, err := difficulty.NextSubSlotItersAndDifficulty(ch.c, ch.db, true, peak)
			if err != nil {
				return types.SignagePoint{}, fmt.Errorf("signage point: %w", err)
			}
			slotStart += peak.SubSlotIters * uint64(len(ch.pending))
			ssi = next
		} else {
			slotStart = ssi * uint64(len(ch.pending))
		}

	case peak == nil:
		slotCC, slotRC = ch.c.GenesisChallenge, ch.c.GenesisChallenge

	default:
		var err error
		if slotCC, slotRC, err = header.SlotChallenges(ch.c, ch.db, peak); err != nil {
			return types.SignagePoint{}, fmt.Errorf("signage point: %w", err)
		}
		slotStart = peak.IPSubSlotTotalIters(ch.c)
	}

	exp, err := header.ExpectSignagePoint(ch.c, ch.db, peak, slotCC, slotRC, slotStart, ssi, future, index)
	if err != nil {
		return types.SignagePoint{}, fmt.Errorf("signage point: %w", err)
	}

	cc := exp.CC
	cc.NumberOfIterations = exp.Delta
	cc.Output = Element(slotCC.Bytes(), []byte{index}, []byte("cc_sp"))

	rc := exp.RC
	rc.Output = Element(rc.Challenge.Bytes(), []byte{index}, []byte("rc_sp"))

	ccProof, rcProof := Proof(), Proof()
	sp := types.SignagePoint{
		CCVDF:   &cc,
		CCProof: &ccProof,
		RCVDF:   &rc,
		RCProof: &rcProof,
	}

	return sp, nil
}

// =============================================================================

// AddBlock builds the next block and adds it to the chain.
func (ch *Chain) AddBlock(opt Options) (*types.FullBlock, error) {
	fb, required, ssi, err := ch.Build(opt)
	if err != nil {
		return nil, err
	}

	br, err := header.BlockToBlockRecord(ch.c, ch.db, required, fb, &ssi)
	if err != nil {
		return nil, fmt.Errorf("add block: %w", err)
	}

	ch.db.AddBlockRecord(br)
	if err := ch.db.SetPeak(br.HeaderHash); err != nil {
		return nil, fmt.Errorf("add block: %w", err)
	}

	ch.blocks = append(ch.blocks, fb)
	ch.pending = nil
	if fb.FoliageTransactionBlock != nil {
		ch.ts = fb.FoliageTransactionBlock.Timestamp
	}

	return fb, nil
}

// Build finishes opt.Slots more sub-slots and builds the next block on top of
// the peak without adding it. It returns the block, its required iterations
// and the sub-slot iterations it was built with.
func (ch *Chain) Build(opt Options) (*types.FullBlock, uint64, uint64, error) {
	for i := 0; i < opt.Slots; i++ {
		if _, err := ch.FinishSlot(); err != nil {
			return nil, 0, 0, err
		}
	}

	c := ch.c
	prev := ch.db.Peak()
	finished := ch.pending
	genesisBlock := prev == nil
	idx := opt.SignagePointIndex

	ssi, diff, err := ch.nextValues()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build: %w", err)
	}

	prevHash := c.GenesisChallenge
	var height uint32
	var weight uint64
	if prev != nil {
		prevHash = prev.HeaderHash
		height = prev.Height + 1
		weight = prev.Weight
	}
	weight += diff

	overflow, err := pot.IsOverflowBlock(c, idx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build: %w", err)
	}

	challenge, err := header.BlockChallenge(c, ch.db, prevHash, finished, genesisBlock, overflow, false)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build: %w", err)
	}

	ipChallenge, err := header.BlockChallenge(c, ch.db, prevHash, finished, genesisBlock, false, false)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build: %w", err)
	}

	spIters, err := pot.SPIters(c, ssi, idx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build: %w", err)
	}

	// Signage point.

	ccSPHash := challenge
	var ccSP, rcSP *types.VDFInfo
	var ccSPProof, rcSPProof *types.VDFProof
	if idx > 0 {
		ccSP = &types.VDFInfo{
			Challenge:          challenge,
			NumberOfIterations: spIters,
			Output:             Element(challenge.Bytes(), []byte{idx}, []byte("cc_sp")),
		}
		ccSPHash = ccSP.Output.Hash()

		rcChallenge, _ := header.RewardChainStart(c, finished, prev, 0, 0)
		rcSP = &types.VDFInfo{
			Challenge:          rcChallenge,
			NumberOfIterations: spIters,
			Output:             Element(rcChallenge.Bytes(), []byte{idx}, []byte("rc_sp")),
		}

		p1, p2 := Proof(), Proof()
		ccSPProof, rcSPProof = &p1, &p2
	}

	// Proof of space.

	plotKey := signature.G1Element{0xa0, opt.Farmer}
	proof := types.ProofOfSpace{
		Challenge:     challenge,
		PlotPublicKey: plotKey,
		Size:          PlotSize,
	}
	commit := Commit(challenge, ccSPHash, plotKey)
	proof.Proof = commit.Bytes()

	quality, _ := PoS{}.VerifyAndGetQualityString(proof, c, challenge, ccSPHash)
	required := pot.IterationsQuality(c, quality, PlotSize, diff, ccSPHash)

	ipIters, err := pot.IPIters(c, ssi, idx, required)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build: %w", err)
	}

	// Infusion point.

	n := uint64(len(finished))
	var slotStart uint64
	switch {
	case prev == nil:
		slotStart = ssi * n
	case n > 0:
		slotStart = prev.IPSubSlotTotalIters(c) + prev.SubSlotIters + ssi*(n-1)
	default:
		slotStart = prev.IPSubSlotTotalIters(c)
	}

	totalIters := slotStart + ipIters
	if prev != nil && totalIters <= prev.TotalIters {
		return nil, 0, 0, fmt.Errorf("build: sp index %d lands at %d, peak at %d: %w", idx, totalIters, prev.TotalIters, ErrBehindPeak)
	}

	rcChallenge, rcIters := header.RewardChainStart(c, finished, prev, totalIters, ipIters)

	rcb := types.RewardChainBlock{
		Weight:               weight,
		Height:               height,
		TotalIters:           totalIters,
		SignagePointIndex:    idx,
		PosSSCCChallengeHash: challenge,
		ProofOfSpace:         proof,
		ChallengeChainSPVDF:  ccSP,
		ChallengeChainIPVDF: types.VDFInfo{
			Challenge:          ipChallenge,
			NumberOfIterations: ipIters,
			Output:             Element(ipChallenge.Bytes(), commit.Bytes(), []byte("cc_ip")),
		},
		RewardChainSPVDF: rcSP,
		RewardChainIPVDF: types.VDFInfo{
			Challenge:          rcChallenge,
			NumberOfIterations: rcIters,
			Output:             Element(rcChallenge.Bytes(), commit.Bytes(), []byte("rc_ip")),
		},
		IsTransactionBlock: opt.Transaction || genesisBlock,
	}

	var iccIPProof *types.VDFProof
	deficit := difficulty.CalculateDeficit(c, height, prev, overflow, len(finished))
	if deficit < c.MinBlocksPerChallengeBlock-1 {
		rcb.InfusedChallengeChainIPVDF = &types.VDFInfo{
			Challenge:          ipChallenge,
			NumberOfIterations: ipIters,
			Output:             Element(ipChallenge.Bytes(), commit.Bytes(), []byte("icc_ip")),
		}
		p := Proof()
		iccIPProof = &p
	}

	// Foliage.

	unfinishedHash := rcb.Unfinished().Hash()
	foliage := types.Foliage{
		PrevBlockHash:   prevHash,
		RewardBlockHash: unfinishedHash,
		FoliageBlockData: types.FoliageBlockData{
			UnfinishedRewardBlockHash: unfinishedHash,
			PoolTarget:                types.PoolTarget{PuzzleHash: common.Hash{0xb0, opt.Farmer}},
			FarmerRewardPuzzleHash:    common.Hash{0xf0, opt.Farmer},
		},
	}

	fb := types.FullBlock{
		FinishedSubSlots:             finished,
		RewardChainBlock:             rcb,
		ChallengeChainSPProof:        ccSPProof,
		ChallengeChainIPProof:        Proof(),
		RewardChainSPProof:           rcSPProof,
		RewardChainIPProof:           Proof(),
		InfusedChallengeChainIPProof: iccIPProof,
		Foliage:                      foliage,
	}

	if rcb.IsTransactionBlock {
		prevTx := c.GenesisChallenge
		if prev != nil {
			br, err := header.PrevTransactionBlock(c, ch.db, prev)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("build: %w", err)
			}
			if br != nil {
				prevTx = br.HeaderHash
			}
		}

		conds := types.Conditions{AggSigs: opt.AggSigs}
		pks, msgs := conds.PKMPairs(c.AggSigMeAdditionalData)

		ti := types.TransactionsInfo{
			GeneratorRoot:       signature.HashBytes(opt.Generator),
			AggregatedSignature: Aggregate(pks, msgs),
			Fees:                opt.Fees,
			Cost:                opt.Cost,
		}

		ftb := types.FoliageTransactionBlock{
			PrevTransactionBlockHash: prevTx,
			Timestamp:                ch.ts + 20,
			TransactionsInfoHash:     ti.Hash(),
		}

		h := ftb.Hash()
		fb.Foliage.FoliageTransactionBlockHash = &h
		fb.FoliageTransactionBlock = &ftb
		fb.TransactionsInfo = &ti
		fb.TransactionsGenerator = opt.Generator
		fb.TransactionsGeneratorRefList = opt.GeneratorRefs
	}

	return &fb, required, ssi, nil
}

package types

import (
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// ProofOfSpace is a farmer's proof that it stores a plot eligible for the
// challenge.
type ProofOfSpace struct {
	Challenge              common.Hash
	PoolPublicKey          *signature.G1Element
	PoolContractPuzzleHash *common.Hash
	PlotPublicKey          signature.G1Element
	Size                   uint8
	Proof                  []byte
}

// RewardChainBlockUnfinished is the reward chain block before infusion.
type RewardChainBlockUnfinished struct {
	TotalIters                uint64
	SignagePointIndex         uint8
	PosSSCCChallengeHash      common.Hash
	ProofOfSpace              ProofOfSpace
	ChallengeChainSPVDF       *VDFInfo
	ChallengeChainSPSignature signature.G2Element
	RewardChainSPVDF          *VDFInfo
	RewardChainSPSignature    signature.G2Element
}

// Hash identifies the unfinished reward chain block. Unfinished blocks that
// share a proof of space share this hash.
func (rcb RewardChainBlockUnfinished) Hash() common.Hash {
	return signature.Hash(rcb)
}

// RewardChainBlock is the reward chain block after infusion.
type RewardChainBlock struct {
	Weight                     uint64
	Height                     uint32
	TotalIters                 uint64
	SignagePointIndex          uint8
	PosSSCCChallengeHash       common.Hash
	ProofOfSpace               ProofOfSpace
	ChallengeChainSPVDF        *VDFInfo
	ChallengeChainSPSignature  signature.G2Element
	ChallengeChainIPVDF        VDFInfo
	RewardChainSPVDF           *VDFInfo
	RewardChainSPSignature     signature.G2Element
	RewardChainIPVDF           VDFInfo
	InfusedChallengeChainIPVDF *VDFInfo
	IsTransactionBlock         bool
}

// Hash identifies the reward chain block. The next block's reward chain
// infusion starts from this value.
func (rcb RewardChainBlock) Hash() common.Hash {
	return signature.Hash(rcb)
}

// Unfinished strips the infusion from the reward chain block.
func (rcb RewardChainBlock) Unfinished() RewardChainBlockUnfinished {
	return RewardChainBlockUnfinished{
		TotalIters:                rcb.TotalIters,
		SignagePointIndex:         rcb.SignagePointIndex,
		PosSSCCChallengeHash:      rcb.PosSSCCChallengeHash,
		ProofOfSpace:              rcb.ProofOfSpace,
		ChallengeChainSPVDF:       rcb.ChallengeChainSPVDF,
		ChallengeChainSPSignature: rcb.ChallengeChainSPSignature,
		RewardChainSPVDF:          rcb.RewardChainSPVDF,
		RewardChainSPSignature:    rcb.RewardChainSPSignature,
	}
}

// ChallengeBlockInfo is what the infused challenge chain commits to when a
// challenge block is infused.
type ChallengeBlockInfo struct {
	ProofOfSpace              ProofOfSpace
	ChallengeChainSPVDF       *VDFInfo
	ChallengeChainSPSignature signature.G2Element
	ChallengeChainIPVDF       VDFInfo
}

// Hash identifies the challenge block info.
func (cbi ChallengeBlockInfo) Hash() common.Hash {
	return signature.Hash(cbi)
}

// =============================================================================

// PoolTarget is where the pool reward goes.
type PoolTarget struct {
	PuzzleHash common.Hash
	MaxHeight  uint32
}

// FoliageBlockData is the signed part of the foliage.
type FoliageBlockData struct {
	UnfinishedRewardBlockHash common.Hash
	PoolTarget                PoolTarget
	PoolSignature             *signature.G2Element
	FarmerRewardPuzzleHash    common.Hash
	ExtensionData             common.Hash
}

// Foliage is the part of the block the farmer can grind on. Its hash is the
// header hash.
type Foliage struct {
	PrevBlockHash                    common.Hash
	RewardBlockHash                  common.Hash
	FoliageBlockData                 FoliageBlockData
	FoliageBlockDataSignature        signature.G2Element
	FoliageTransactionBlockHash      *common.Hash
	FoliageTransactionBlockSignature *signature.G2Element
}

// Hash returns the header hash.
func (f Foliage) Hash() common.Hash {
	return signature.Hash(f)
}

// FoliageTransactionBlock is present only on transaction blocks.
type FoliageTransactionBlock struct {
	PrevTransactionBlockHash common.Hash
	Timestamp                uint64
	FilterHash               common.Hash
	AdditionsRoot            common.Hash
	RemovalsRoot             common.Hash
	TransactionsInfoHash     common.Hash
}

// Hash identifies the foliage transaction block.
func (ftb FoliageTransactionBlock) Hash() common.Hash {
	return signature.Hash(ftb)
}

// Coin is an unspent output.
type Coin struct {
	ParentCoinInfo common.Hash
	PuzzleHash     common.Hash
	Amount         uint64
}

// Name returns the coin id.
func (c Coin) Name() common.Hash {
	return signature.Hash(c)
}

// TransactionsInfo summarizes the block's transactions.
type TransactionsInfo struct {
	GeneratorRoot            common.Hash
	GeneratorRefsRoot        common.Hash
	AggregatedSignature      signature.G2Element
	Fees                     uint64
	Cost                     uint64
	RewardClaimsIncorporated []Coin
}

// Hash identifies the transactions info.
func (ti TransactionsInfo) Hash() common.Hash {
	return signature.Hash(ti)
}

// BlockGenerator is a generator program with the programs it references.
type BlockGenerator struct {
	Program       []byte
	GeneratorRefs [][]byte
}

// =============================================================================

// UnfinishedBlock is a block missing only its infusion point VDFs.
type UnfinishedBlock struct {
	FinishedSubSlots             []EndOfSubSlotBundle
	RewardChainBlock             RewardChainBlockUnfinished
	ChallengeChainSPProof        *VDFProof
	RewardChainSPProof           *VDFProof
	Foliage                      Foliage
	FoliageTransactionBlock      *FoliageTransactionBlock
	TransactionsInfo             *TransactionsInfo
	TransactionsGenerator        []byte
	TransactionsGeneratorRefList []uint32
}

// Hash identifies the unfinished block, foliage included.
func (ub *UnfinishedBlock) Hash() common.Hash {
	return signature.Hash(ub)
}

// PartialHash is the hash of the unfinished reward chain block.
func (ub *UnfinishedBlock) PartialHash() common.Hash {
	return ub.RewardChainBlock.Hash()
}

// PrevHeaderHash returns the hash of the block this one builds on.
func (ub *UnfinishedBlock) PrevHeaderHash() common.Hash {
	return ub.Foliage.PrevBlockHash
}

// FoliageTransactionBlockHash returns the hash disambiguating unfinished
// blocks with the same proof of space. Nil for non transaction blocks.
func (ub *UnfinishedBlock) FoliageTransactionBlockHash() *common.Hash {
	return ub.Foliage.FoliageTransactionBlockHash
}

// IsTransactionBlock reports whether the block carries a transaction block.
func (ub *UnfinishedBlock) IsTransactionBlock() bool {
	return ub.Foliage.FoliageTransactionBlockHash != nil
}

// TotalIters returns the total iterations at the infusion point.
func (ub *UnfinishedBlock) TotalIters() uint64 {
	return ub.RewardChainBlock.TotalIters
}

// FullBlock is a block with all its infusion point VDFs.
type FullBlock struct {
	FinishedSubSlots             []EndOfSubSlotBundle
	RewardChainBlock             RewardChainBlock
	ChallengeChainSPProof        *VDFProof
	ChallengeChainIPProof        VDFProof
	RewardChainSPProof           *VDFProof
	RewardChainIPProof           VDFProof
	InfusedChallengeChainIPProof *VDFProof
	Foliage                      Foliage
	FoliageTransactionBlock      *FoliageTransactionBlock
	TransactionsInfo             *TransactionsInfo
	TransactionsGenerator        []byte
	TransactionsGeneratorRefList []uint32
}

// HeaderHash identifies the block.
func (fb *FullBlock) HeaderHash() common.Hash {
	return fb.Foliage.Hash()
}

// PrevHeaderHash returns the hash of the parent block. For the genesis block
// this is the genesis challenge.
func (fb *FullBlock) PrevHeaderHash() common.Hash {
	return fb.Foliage.PrevBlockHash
}

// Height returns the block height.
func (fb *FullBlock) Height() uint32 {
	return fb.RewardChainBlock.Height
}

// Weight returns the cumulative difficulty up to and including the block.
func (fb *FullBlock) Weight() uint64 {
	return fb.RewardChainBlock.Weight
}

// TotalIters returns the cumulative iterations at the infusion point.
func (fb *FullBlock) TotalIters() uint64 {
	return fb.RewardChainBlock.TotalIters
}

// IsTransactionBlock reports whether the block carries transactions.
func (fb *FullBlock) IsTransactionBlock() bool {
	return fb.RewardChainBlock.IsTransactionBlock
}

// Unfinished returns the block as it looked before infusion.
func (fb *FullBlock) Unfinished() UnfinishedBlock {
	return UnfinishedBlock{
		FinishedSubSlots:             fb.FinishedSubSlots,
		RewardChainBlock:             fb.RewardChainBlock.Unfinished(),
		ChallengeChainSPProof:        fb.ChallengeChainSPProof,
		RewardChainSPProof:           fb.RewardChainSPProof,
		Foliage:                      fb.Foliage,
		FoliageTransactionBlock:      fb.FoliageTransactionBlock,
		TransactionsInfo:             fb.TransactionsInfo,
		TransactionsGenerator:        fb.TransactionsGenerator,
		TransactionsGeneratorRefList: fb.TransactionsGeneratorRefList,
	}
}

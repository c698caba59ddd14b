package contractgw

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// These argument lists describe the calldata layout the spec's §6.3 wire
// format requires. They are built directly with abi.Arguments rather than
// a generated contract binding (abigen) because the contracts themselves
// are out of scope (spec §1) — the gateway only needs to speak their ABI,
// not reproduce their Solidity, mirroring the teacher's
// core/contracts.go, which also hand-rolls a thin invocation layer instead
// of vendoring generated bindings.
var (
	uint256Ty, _  = abi.NewType("uint256", "", nil)
	bytes32Ty, _  = abi.NewType("bytes32", "", nil)
	bytesTy, _    = abi.NewType("bytes", "", nil)
	addressTy, _  = abi.NewType("address", "", nil)
	boolTy, _     = abi.NewType("bool", "", nil)
	stringTy, _   = abi.NewType("string", "", nil)
	uint256ArrTy, _ = abi.NewType("uint256[]", "", nil)
	bytes32ArrTy, _ = abi.NewType("bytes32[]", "", nil)

	registerHostArgs = abi.Arguments{
		{Type: bytes32ArrTy}, // supported model ids
		{Type: uint256Ty},    // min price per token, native
		{Type: uint256Ty},    // min price per token, stable
		{Type: bytesTy},      // registration signature
	}

	submitProofArgs = abi.Arguments{
		{Type: uint256Ty}, // job id
		{Type: uint256Ty}, // tokens claimed
		{Type: bytes32Ty}, // proof hash
		{Type: bytesTy},   // signature
		{Type: bytes32Ty}, // model id
		{Type: uint256Ty}, // timestamp
	}

	querySessionModelArgs = abi.Arguments{
		{Type: uint256Ty}, // job id
	}

	isActiveNodeArgs = abi.Arguments{
		{Type: addressTy},
	}
)

func packRegisterHost(modelIDs [][32]byte, minNative, minStable *big.Int, sig []byte) ([]byte, error) {
	return registerHostArgs.Pack(toBytes32Slice(modelIDs), minNative, minStable, sig)
}

func packSubmitProof(jobID, tokensClaimed *big.Int, proofHash [32]byte, sig []byte, modelID [32]byte, timestamp *big.Int) ([]byte, error) {
	return submitProofArgs.Pack(jobID, tokensClaimed, proofHash, sig, modelID, timestamp)
}

func packQuerySessionModel(jobID *big.Int) ([]byte, error) {
	return querySessionModelArgs.Pack(jobID)
}

func packIsActiveNode(addr [20]byte) ([]byte, error) {
	return isActiveNodeArgs.Pack(addr)
}

func toBytes32Slice(in [][32]byte) [][32]byte { return in }

func unpackModelID(out []byte) ([32]byte, error) {
	var m [32]byte
	vals, err := bytes32Arg().Unpack(out)
	if err != nil {
		return m, err
	}
	copy(m[:], vals[0].([32]byte)[:])
	return m, nil
}

func unpackBool(out []byte) (bool, error) {
	vals, err := boolArg().Unpack(out)
	if err != nil {
		return false, err
	}
	return vals[0].(bool), nil
}

func bytes32Arg() abi.Arguments { return abi.Arguments{{Type: bytes32Ty}} }
func boolArg() abi.Arguments    { return abi.Arguments{{Type: boolTy}} }

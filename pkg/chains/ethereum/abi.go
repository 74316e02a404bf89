package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Contract ABI fragments for the home, replica and connection-manager
// surfaces the agents touch. Kept as JSON so the packing matches the
// deployed contracts exactly.
const homeABIJSON = `[
	{"type":"event","name":"Dispatch","inputs":[
		{"name":"messageHash","type":"bytes32","indexed":true},
		{"name":"leafIndex","type":"uint256","indexed":true},
		{"name":"destinationAndNonce","type":"uint64","indexed":true},
		{"name":"committedRoot","type":"bytes32","indexed":false},
		{"name":"message","type":"bytes","indexed":false}]},
	{"type":"event","name":"Update","inputs":[
		{"name":"homeDomain","type":"uint32","indexed":true},
		{"name":"oldRoot","type":"bytes32","indexed":true},
		{"name":"newRoot","type":"bytes32","indexed":true},
		{"name":"signature","type":"bytes","indexed":false}]},
	{"type":"function","name":"dispatch","inputs":[
		{"name":"destinationDomain","type":"uint32"},
		{"name":"recipientAddress","type":"bytes32"},
		{"name":"messageBody","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"update","inputs":[
		{"name":"oldRoot","type":"bytes32"},
		{"name":"newRoot","type":"bytes32"},
		{"name":"signature","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"doubleUpdate","inputs":[
		{"name":"oldRoot","type":"bytes32"},
		{"name":"newRoot","type":"bytes32[2]"},
		{"name":"signature","type":"bytes"},
		{"name":"signature2","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"updater","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"committedRoot","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
	{"type":"function","name":"count","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

const replicaABIJSON = `[
	{"type":"event","name":"Update","inputs":[
		{"name":"homeDomain","type":"uint32","indexed":true},
		{"name":"oldRoot","type":"bytes32","indexed":true},
		{"name":"newRoot","type":"bytes32","indexed":true},
		{"name":"signature","type":"bytes","indexed":false}]},
	{"type":"function","name":"update","inputs":[
		{"name":"oldRoot","type":"bytes32"},
		{"name":"newRoot","type":"bytes32"},
		{"name":"signature","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"prove","inputs":[
		{"name":"leaf","type":"bytes32"},
		{"name":"proof","type":"bytes32[32]"},
		{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"process","inputs":[
		{"name":"message","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"proveAndProcess","inputs":[
		{"name":"message","type":"bytes"},
		{"name":"proof","type":"bytes32[32]"},
		{"name":"index","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"committedRoot","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"}
]`

const connectionManagerABIJSON = `[
	{"type":"function","name":"unenrollReplica","inputs":[
		{"name":"domain","type":"uint32"},
		{"name":"updater","type":"bytes32"},
		{"name":"signature","type":"bytes"}],"outputs":[]}
]`

var (
	homeABI              abi.ABI
	replicaABI           abi.ABI
	connectionManagerABI abi.ABI

	dispatchTopic common.Hash
	updateTopic   common.Hash
)

func init() {
	var err error
	if homeABI, err = abi.JSON(strings.NewReader(homeABIJSON)); err != nil {
		panic(err)
	}
	if replicaABI, err = abi.JSON(strings.NewReader(replicaABIJSON)); err != nil {
		panic(err)
	}
	if connectionManagerABI, err = abi.JSON(strings.NewReader(connectionManagerABIJSON)); err != nil {
		panic(err)
	}
	dispatchTopic = crypto.Keccak256Hash([]byte("Dispatch(bytes32,uint256,uint64,bytes32,bytes)"))
	updateTopic = crypto.Keccak256Hash([]byte("Update(uint32,bytes32,bytes32,bytes)"))
}

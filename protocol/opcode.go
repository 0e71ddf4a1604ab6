package protocol

import (
	"fmt"

	"gridclient/binarytype"
)

// Opcode selects the operation a request performs. Codes are wire constants shared
// with every node version the client talks to and are never renumbered.
type Opcode int16

// Per-key, bulk and whole-cache operations.
const (
	OpCacheGet               Opcode = 1000
	OpCachePut               Opcode = 1001
	OpCachePutIfAbsent       Opcode = 1002
	OpCacheGetAll            Opcode = 1003
	OpCachePutAll            Opcode = 1004
	OpCacheGetAndPut         Opcode = 1005
	OpCacheGetAndReplace     Opcode = 1006
	OpCacheGetAndRemove      Opcode = 1007
	OpCacheGetAndPutIfAbsent Opcode = 1008
	OpCacheReplace           Opcode = 1009
	OpCacheReplaceIfEquals   Opcode = 1010
	OpCacheContainsKey       Opcode = 1011
	OpCacheContainsKeys      Opcode = 1012
	OpCacheClear             Opcode = 1013
	OpCacheClearKey          Opcode = 1014
	OpCacheClearKeys         Opcode = 1015
	OpCacheRemoveKey         Opcode = 1016
	OpCacheRemoveIfEquals    Opcode = 1017
	OpCacheRemoveKeys        Opcode = 1018
	OpCacheRemoveAll         Opcode = 1019
	OpCacheGetSize           Opcode = 1020
)

// Cache management operations.
const (
	OpCacheGetNames                     Opcode = 1050
	OpCacheCreateWithName               Opcode = 1051
	OpCacheGetOrCreateWithName          Opcode = 1052
	OpCacheCreateWithConfiguration      Opcode = 1053
	OpCacheGetOrCreateWithConfiguration Opcode = 1054
	OpCacheGetConfiguration             Opcode = 1055
	OpCacheDestroy                      Opcode = 1056
)

var opcodeNames = map[Opcode]string{
	OpCacheGet:                          "get",
	OpCachePut:                          "put",
	OpCachePutIfAbsent:                  "putIfAbsent",
	OpCacheGetAll:                       "getAll",
	OpCachePutAll:                       "putAll",
	OpCacheGetAndPut:                    "getAndPut",
	OpCacheGetAndReplace:                "getAndReplace",
	OpCacheGetAndRemove:                 "getAndRemove",
	OpCacheGetAndPutIfAbsent:            "getAndPutIfAbsent",
	OpCacheReplace:                      "replace",
	OpCacheReplaceIfEquals:              "replaceIfEquals",
	OpCacheContainsKey:                  "containsKey",
	OpCacheContainsKeys:                 "containsKeys",
	OpCacheClear:                        "clear",
	OpCacheClearKey:                     "clearKey",
	OpCacheClearKeys:                    "clearKeys",
	OpCacheRemoveKey:                    "removeKey",
	OpCacheRemoveIfEquals:               "removeIfEquals",
	OpCacheRemoveKeys:                   "removeKeys",
	OpCacheRemoveAll:                    "removeAll",
	OpCacheGetSize:                      "getSize",
	OpCacheGetNames:                     "getNames",
	OpCacheCreateWithName:               "createWithName",
	OpCacheGetOrCreateWithName:          "getOrCreateWithName",
	OpCacheCreateWithConfiguration:      "createWithConfiguration",
	OpCacheGetOrCreateWithConfiguration: "getOrCreateWithConfiguration",
	OpCacheGetConfiguration:             "getConfiguration",
	OpCacheDestroy:                      "destroy",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", int16(op))
}

// Known reports whether op is one of the registered operations.
func (op Opcode) Known() bool {
	_, ok := opcodeNames[op]
	return ok
}

// OpcodeByName looks an operation up by its logical name, e.g. "getAndReplace".
func OpcodeByName(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// CacheID is the identifier a node derives from a cache name. Cache requests carry
// it instead of the name.
func CacheID(name string) int32 {
	return binarytype.HashCode(name)
}

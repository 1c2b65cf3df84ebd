package detour

import "github.com/pboyd/detour/insn"

const hostMode = insn.Mode64

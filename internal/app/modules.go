package app

import (
	"github.com/vk/reqrelay/internal/registry"
	"github.com/vk/reqrelay/modules/httpfetch"
	"github.com/vk/reqrelay/modules/socketfetch"
)

// coreModules is the definitive list of transport modules compiled into
// the reqrelay binary.
var coreModules = []registry.Module{
	&httpfetch.Module{},
	&socketfetch.Module{},
}

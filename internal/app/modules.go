package app

import (
	"github.com/vk/flowgrid/internal/runner"
	"github.com/vk/flowgrid/modules/delay"
	"github.com/vk/flowgrid/modules/env_vars"
	"github.com/vk/flowgrid/modules/http_request"
	"github.com/vk/flowgrid/modules/print"
	"github.com/vk/flowgrid/modules/template"
)

// coreModules is the definitive list of all modules that are compiled
// into the flowgrid binary.
var coreModules = []runner.Module{
	&delay.Module{},
	&env_vars.Module{},
	&http_request.Module{},
	&print.Module{},
	&template.Module{},
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/rtxnet/rtxd/src/config"
)

var _config = config.NewDefaultConfig()

//RootCmd is the root command for rtxd
var RootCmd = &cobra.Command{
	Use:              "rtxd",
	Short:            "rtxd network node",
	TraverseChildren: true,
}

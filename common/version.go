package common

const PackageName = "github.com/ruteri/esim-operator-registry"

// Version is set at build time with -ldflags "-X .../common.Version=..."
var Version = "dev"

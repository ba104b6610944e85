package sing

var VersionStr = "0.1.0"

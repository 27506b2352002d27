// Package log holds the process-wide zerolog root logger. Setup is called
// once from the CLI with the level name and output format; everything else
// derives child loggers via WithComponent / WithWorkflowID / WithImage.
package log

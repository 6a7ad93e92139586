package main

import "github.com/posener/complete/v2/predict"

// predictLockActions completes the lock subcommand's positional action
// argument.
var predictLockActions = predict.Set([]string{"status", "release", "force-unlock"})

//go:build !unix

/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package sandbox

import "os/exec"

func configureProcess(_ *exec.Cmd) {}

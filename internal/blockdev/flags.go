package blockdev

import "os"

const fileCreateFlags = os.O_RDWR | os.O_CREATE

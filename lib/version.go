package lib

const Version = "0.1.0"

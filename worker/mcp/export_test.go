package mcp

var ContentToMap = contentToMap

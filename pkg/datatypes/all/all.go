// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package all builds a registry with every supported data type.
package all

import (
	"github.com/donkeyengine/donkey/pkg/datatypes"
	"github.com/donkeyengine/donkey/pkg/datatypes/delimited"
	"github.com/donkeyengine/donkey/pkg/datatypes/dicomtype"
	"github.com/donkeyengine/donkey/pkg/datatypes/hl7v2"
	"github.com/donkeyengine/donkey/pkg/datatypes/hl7v3"
	"github.com/donkeyengine/donkey/pkg/datatypes/jsontype"
	"github.com/donkeyengine/donkey/pkg/datatypes/ncpdp"
	"github.com/donkeyengine/donkey/pkg/datatypes/rawtype"
	"github.com/donkeyengine/donkey/pkg/datatypes/x12"
	"github.com/donkeyengine/donkey/pkg/datatypes/xmltype"
)

// NewRegistry returns a registry with the default configuration of every
// data type.
func NewRegistry() *datatypes.Registry {
	r := datatypes.NewRegistry()
	r.Register(hl7v2.New())
	r.Register(hl7v3.New())
	r.Register(x12.New())
	r.Register(ncpdp.New())
	r.Register(delimited.New())
	r.Register(dicomtype.New())
	r.Register(xmltype.New())
	r.Register(jsontype.New())
	r.Register(rawtype.New())
	return r
}

/*
 *
 * Copyright 2019 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package locality defines the identity key used throughout the locality
// load-balancing core.
package locality

import "fmt"

// ID is an opaque (region, zone, sub-zone) triple. It has no XXX/slice
// fields, so unlike the raw xDS Locality proto it can be used directly as a
// map key.
type ID struct {
	Region  string
	Zone    string
	SubZone string
}

// String renders the locality in the gRFC A76 canonical form.
func (id ID) String() string {
	return fmt.Sprintf("{region=%q, zone=%q, sub_zone=%q}", id.Region, id.Zone, id.SubZone)
}

// Equal reports whether id and o identify the same locality.
func (id ID) Equal(o ID) bool {
	return id.Region == o.Region && id.Zone == o.Zone && id.SubZone == o.SubZone
}

// Empty reports whether id is the zero-value locality.
func (id ID) Empty() bool {
	return id.Region == "" && id.Zone == "" && id.SubZone == ""
}

// FromString parses the gRFC A76 canonical form produced by String.
func FromString(s string) (ID, error) {
	var id ID
	if _, err := fmt.Sscanf(s, "{region=%q, zone=%q, sub_zone=%q}", &id.Region, &id.Zone, &id.SubZone); err != nil {
		return ID{}, fmt.Errorf("%q is not a well formed locality id: %v", s, err)
	}
	return id, nil
}

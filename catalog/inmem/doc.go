// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

/*
Package inmem implements the catalog store interface in process memory. It
helps get an instance of xrgate up and running quickly without a dedicated
DB and backs the package tests; recommended for test environments only.
*/
package inmem
